package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL      = "https://api.anti-captcha.com"
	defaultPollInterval = 2 * time.Second
	defaultSolveTimeout = 90 * time.Second
)

type AntiCaptchaOptions struct {
	Key     string
	BaseURL string

	PollInterval time.Duration
	SolveTimeout time.Duration
}

// AntiCaptcha solves image captchas through the anti-captcha HTTP API with
// the create-task / poll-result flow.
type AntiCaptcha struct {
	client       *resty.Client
	key          string
	pollInterval time.Duration
	solveTimeout time.Duration
}

func NewAntiCaptcha(opts AntiCaptchaOptions) *AntiCaptcha {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	solveTimeout := opts.SolveTimeout
	if solveTimeout <= 0 {
		solveTimeout = defaultSolveTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &AntiCaptcha{
		client:       client,
		key:          opts.Key,
		pollInterval: pollInterval,
		solveTimeout: solveTimeout,
	}
}

type createTaskRequest struct {
	ClientKey string    `json:"clientKey"`
	Task      imageTask `json:"task"`
}

type imageTask struct {
	Type      string `json:"type"`
	Body      string `json:"body"`
	Phrase    bool   `json:"phrase"`
	Numeric   int    `json:"numeric"`
	MinLength int    `json:"minLength"`
}

type createTaskResponse struct {
	ErrorID   int    `json:"errorId"`
	ErrorCode string `json:"errorCode"`
	TaskID    int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID   int    `json:"errorId"`
	ErrorCode string `json:"errorCode"`
	Status    string `json:"status"`
	Solution  struct {
		Text string `json:"text"`
	} `json:"solution"`
}

type balanceResponse struct {
	ErrorID   int     `json:"errorId"`
	ErrorCode string  `json:"errorCode"`
	Balance   float64 `json:"balance"`
}

func (a *AntiCaptcha) Solve(ctx context.Context, image []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.solveTimeout)
	defer cancel()

	var created createTaskResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(createTaskRequest{
			ClientKey: a.key,
			Task: imageTask{
				Type:      "ImageToTextTask",
				Body:      base64.StdEncoding.EncodeToString(image),
				MinLength: 1,
			},
		}).
		SetResult(&created).
		Post("/createTask")
	if err != nil {
		return "", fmt.Errorf("create captcha task: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("create captcha task: status %d", resp.StatusCode())
	}
	if created.ErrorID != 0 {
		return "", apiError(created.ErrorCode)
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		var result taskResultResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetBody(taskResultRequest{ClientKey: a.key, TaskID: created.TaskID}).
			SetResult(&result).
			Post("/getTaskResult")
		if err != nil {
			return "", fmt.Errorf("poll captcha task: %w", err)
		}
		if resp.IsError() {
			return "", fmt.Errorf("poll captcha task: status %d", resp.StatusCode())
		}
		if result.ErrorID != 0 {
			return "", apiError(result.ErrorCode)
		}
		if result.Status == "ready" {
			return result.Solution.Text, nil
		}
	}
}

func (a *AntiCaptcha) Balance(ctx context.Context) (float64, error) {
	var result balanceResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"clientKey": a.key}).
		SetResult(&result).
		Post("/getBalance")
	if err != nil {
		return 0, fmt.Errorf("fetch captcha balance: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("fetch captcha balance: status %d", resp.StatusCode())
	}
	if result.ErrorID != 0 {
		return 0, apiError(result.ErrorCode)
	}
	return result.Balance, nil
}

func apiError(code string) error {
	switch code {
	case "ERROR_KEY_DOES_NOT_EXIST", "ERROR_WRONG_USER_KEY", "ERROR_ZERO_BALANCE":
		return fmt.Errorf("%w: %s", ErrBadKey, code)
	case "ERROR_CAPTCHA_UNSOLVABLE":
		return ErrUnsolvable
	}
	return fmt.Errorf("captcha service error %s", code)
}
