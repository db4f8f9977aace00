// Command mock is a local stand-in for the remote platform. It serves the
// login flow, the user info and profile card endpoints, the script bundle
// with the track index enum and the mobile audio endpoint, so the engine can
// be run end to end without touching the real service.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

const bundleName = "dist/common.1a2b3c4d5e.js"

const bundleBody = `var audio={AUDIO_ITEM_INDEX_ID:0,AUDIO_ITEM_INDEX_OWNER_ID:1,AUDIO_ITEM_INDEX_URL:2,AUDIO_ITEM_INDEX_TITLE:3,AUDIO_ITEM_INDEX_PERFORMER:4,AUDIO_ITEM_INDEX_DURATION:5,AUDIO_ITEM_INDEX_HASHES:13,AUDIO_ITEM_INDEX_COVER_URL:14,AUDIO_ITEM_INDEX_TRACK_CODE:20,AUDIO_ITEM_ACCESS_KEY:24};`

// 1x1 transparent gif, enough for a captcha image body.
var captchaImage = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type track struct {
	id       int64
	title    string
	duration int
}

type mockState struct {
	mu       sync.Mutex
	sessions map[string]int64
	nextUser int64
	listens  int64
	tracks   []track

	captchaEvery int
	loginCount   int
}

func newState(captchaEvery int) *mockState {
	s := &mockState{
		sessions:     make(map[string]int64),
		nextUser:     1000,
		listens:      125,
		captchaEvery: captchaEvery,
	}
	for i := int64(1); i <= 8; i++ {
		s.tracks = append(s.tracks, track{
			id:       456000 + i,
			title:    fmt.Sprintf("Track %d", i),
			duration: 120 + int(i)*10,
		})
	}
	return s
}

func main() {
	addr := flag.String("addr", ":8091", "listen address")
	captchaEvery := flag.Int("captcha-every", 0, "serve a captcha on every n-th login attempt (0 disables)")
	flag.Parse()

	state := newState(*captchaEvery)

	mux := http.NewServeMux()
	mux.HandleFunc("/", state.handleLoginPage)
	mux.HandleFunc("/login", state.handleLogin)
	mux.HandleFunc("/captcha.php", state.handleCaptcha)
	mux.HandleFunc("/user_info", state.handleUserInfo)
	mux.HandleFunc("/foaf.php", state.handleFoaf)
	mux.HandleFunc("/test", state.handleTestPage)
	mux.HandleFunc("/"+bundleName, state.handleBundle)
	mux.HandleFunc("/audio", state.handleAudio)

	log.Printf("mock platform listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func (s *mockState) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.writeLoginPage(w, r, false)
}

func (s *mockState) writeLoginPage(w http.ResponseWriter, r *http.Request, withCaptcha bool) {
	action := fmt.Sprintf("http://%s/login", r.Host)
	var b strings.Builder
	b.WriteString(`<html><body>`)
	b.WriteString(fmt.Sprintf(`<form method="POST" action="%s">`, action))
	b.WriteString(`<input name="email"><input name="pass" type="password">`)
	if withCaptcha {
		b.WriteString(`<img id="captcha" src="/captcha.php?s=1&sid=557332">`)
		b.WriteString(`<input name="captcha_sid" value="557332">`)
	}
	b.WriteString(`</form></body></html>`)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

// handleLogin accepts any credential pair except passwords named after a
// failure mode: "wrong" re-serves the form, "blocked" and "security" redirect
// to the matching restriction page.
func (s *mockState) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pass := r.PostFormValue("pass")

	switch pass {
	case "wrong":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><div class="service_msg">Invalid login or password</div></body></html>`))
		return
	case "blocked":
		http.Redirect(w, r, "/?act=blocked", http.StatusFound)
		return
	case "security":
		http.Redirect(w, r, "/?act=security", http.StatusFound)
		return
	}

	s.mu.Lock()
	s.loginCount++
	needCaptcha := s.captchaEvery > 0 && s.loginCount%s.captchaEvery == 0 && r.PostFormValue("captcha_key") == ""
	s.mu.Unlock()
	if needCaptcha {
		s.writeLoginPage(w, r, true)
		return
	}

	sid := randomHex(16)
	s.mu.Lock()
	s.nextUser++
	s.sessions[sid] = s.nextUser
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "remixsid", Value: sid, Path: "/"})
	http.Redirect(w, r, "/feed", http.StatusFound)
}

func (s *mockState) handleCaptcha(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/gif")
	_, _ = w.Write(captchaImage)
}

func (s *mockState) sessionUser(r *http.Request) int64 {
	cookie, err := r.Cookie("remixsid")
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[cookie.Value]
}

func (s *mockState) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if id := s.sessionUser(r); id > 0 {
		_ = json.NewEncoder(w).Encode(map[string]any{"user": map[string]any{"id": id}})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{})
}

func (s *mockState) handleFoaf(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	w.Header().Set("Content-Type", "application/rdf+xml; charset=utf-8")
	fmt.Fprintf(w, `<rdf:RDF><foaf:Person>
<ya:firstName>User</ya:firstName>
<ya:secondName>%s</ya:secondName>
<ya:publicAccess>allowed</ya:publicAccess>
</foaf:Person></rdf:RDF>`, id)
}

func (s *mockState) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><head><script src="/%s"></script></head><body>test</body></html>`, bundleName)
}

func (s *mockState) handleBundle(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write([]byte(bundleBody))
}

func (s *mockState) handleAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.sessionUser(r) == 0 {
		writeEnvelope(w, map[string]any{"location": "/login", "payload": []any{3}})
		return
	}

	switch r.PostFormValue("act") {
	case "load_section":
		s.handleLoadSection(w, r)
	case "start_playback":
		writeEnvelope(w, map[string]any{"data": []any{1}})
	case "playback":
		s.mu.Lock()
		s.listens++
		s.mu.Unlock()
		log.Printf("playback: audio=%s listened=%s state=%s",
			r.PostFormValue("audio"), r.PostFormValue("listened"), r.PostFormValue("state"))
		writeEnvelope(w, map[string]any{"data": []any{1}})
	case "add":
		writeEnvelope(w, map[string]any{"data": []any{
			r.PostFormValue("audio"), "del_" + randomHex(8),
		}})
	default:
		writeEnvelope(w, map[string]any{"payload": []any{8}})
	}
}

func (s *mockState) handleLoadSection(w http.ResponseWriter, r *http.Request) {
	playlistID, _ := strconv.ParseInt(r.PostFormValue("playlist_id"), 10, 64)
	ownerID, _ := strconv.ParseInt(r.PostFormValue("owner_id"), 10, 64)

	s.mu.Lock()
	listens := s.listens
	rows := make([]any, 0, len(s.tracks))
	for _, t := range s.tracks {
		// Positional layout per the bundle's index enum: hashes at 13,
		// track code at 20, access key at 24.
		row := make([]any, 25)
		for i := range row {
			row[i] = ""
		}
		row[0] = t.id
		row[1] = ownerID
		row[2] = fmt.Sprintf("https://cs.example/audio/%d.mp3", t.id)
		row[3] = t.title
		row[4] = "Mock Performer"
		row[5] = t.duration
		row[13] = strings.Join([]string{
			"addhash", "edithash", "actionhash", "", "", "urlhash", "",
		}, "/")
		row[14] = "https://cs.example/cover.jpg"
		row[20] = "track_code_" + strconv.FormatInt(t.id, 10)
		row[24] = "accesskey" + strconv.FormatInt(t.id, 10)
		rows = append(rows, row)
	}
	s.mu.Unlock()

	writeEnvelope(w, map[string]any{"data": []any{map[string]any{
		"id":         playlistID,
		"ownerId":    ownerID,
		"accessHash": r.PostFormValue("access_hash"),
		"title":      "Mock Playlist",
		"authorName": "Mock Author",
		"listens":    listens,
		"totalCount": len(rows),
		"list":       rows,
	}}})
}

func writeEnvelope(w http.ResponseWriter, envelope map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope)
}

func randomHex(bytes int) string {
	b := make([]byte, bytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
