package model

import "strings"

// DataFlag is a bitmask naming which structural resources are missing when a
// component refuses to start.
type DataFlag int

const (
	DataAccounts DataFlag = 1 << iota
	DataAntiCaptcha
	DataProxies
	DataTasks
	DataSystemProxy
)

var dataFlagNames = []struct {
	flag DataFlag
	name string
}{
	{DataAccounts, "accounts"},
	{DataAntiCaptcha, "anticaptcha-key"},
	{DataProxies, "proxies"},
	{DataTasks, "tasks"},
	{DataSystemProxy, "system-proxy"},
}

func (f DataFlag) String() string {
	var parts []string
	for _, e := range dataFlagNames {
		if f&e.flag != 0 {
			parts = append(parts, e.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// NotificationCode is the closed set of lifecycle events the engine emits to
// the presentation layer.
type NotificationCode string

const (
	NotifyConnectionCheckStart NotificationCode = "connection-check-start"
	NotifyConnectionCheckStop  NotificationCode = "connection-check-stop"

	NotifyProxyValidationStart NotificationCode = "proxy-validation-start"
	NotifyProxyValidationStop  NotificationCode = "proxy-validation-stop"

	NotifyAccountsValidationStart NotificationCode = "accounts-validation-start"
	NotifyAccountsValidationStop  NotificationCode = "accounts-validation-stop"

	NotifyAccountsProxyValidationStart NotificationCode = "accounts-proxy-validation-start"
	NotifyAccountsProxyValidationStop  NotificationCode = "accounts-proxy-validation-stop"

	NotifyNeedAuthorization        NotificationCode = "need-authorization"
	NotifyAuthorizationStart       NotificationCode = "authorization-start"
	NotifyAuthorizationComplete    NotificationCode = "authorization-complete"
	NotifyAuthorizationNotRequired NotificationCode = "authorization-not-required"

	NotifyAccountRefused NotificationCode = "account-refused"

	NotifyListenerStart         NotificationCode = "listener-start"
	NotifyListenerStop          NotificationCode = "listener-stop"
	NotifyListenerTaskCompleted NotificationCode = "listener-task-completed"

	NotifyDataRequired NotificationCode = "data-required"
)

// Notification is one discrete engine -> presentation event. Payload shape
// depends on the code and is always JSON-serializable.
type Notification struct {
	Code    NotificationCode `json:"code"`
	Payload any              `json:"payload,omitempty"`
}
