// Package xboxtest runs an in-process imitation of login.live.com, the Xbox
// device authentication service and Sisu, for integration tests.
//
// The fake checks what the real services check: form fields and grant types
// on the OAuth endpoints, and request signatures against the embedded proof
// key on the Xbox endpoints.
package xboxtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/majorcontext/xboxauth/internal/device"
)

const deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"

// Profile is the player the fake signs in.
type Profile struct {
	Gamertag string
	XUID     string
	UserHash string
}

// Server is a fake Xbox Live identity stack.
type Server struct {
	ClientID string
	Profile  Profile
	// Interval and ExpiresIn are returned by the connect endpoint, in seconds.
	Interval  int
	ExpiresIn int
	// Now stamps issued tokens. Defaults to time.Now.
	Now func() time.Time

	srv *httptest.Server

	mu            sync.Mutex
	seq           int
	codes         map[string]*pendingCode // by device code
	userCodes     map[string]string       // user code -> device code
	refreshTokens map[string]bool
	userTokens    map[string]bool
	deviceTokens  map[string]bool
	hits          map[string]int
}

type pendingCode struct {
	approved bool
}

// NewServer starts a fake for clientID. Close it when done.
func NewServer(clientID string) *Server {
	s := &Server{
		ClientID:  clientID,
		Profile:   Profile{Gamertag: "Player One", XUID: "2535400000000001", UserHash: "1234567890"},
		Interval:  1,
		ExpiresIn: 900,

		codes:         map[string]*pendingCode{},
		userCodes:     map[string]string{},
		refreshTokens: map[string]bool{},
		userTokens:    map[string]bool{},
		deviceTokens:  map[string]bool{},
		hits:          map[string]int{},
	}
	s.srv = httptest.NewServer(s.router())
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/oauth20_connect.srf", s.connect).Methods(http.MethodPost)
	r.HandleFunc("/oauth20_token.srf", s.pollToken).Methods(http.MethodGet)
	r.HandleFunc("/oauth20_token.srf", s.refreshToken).Methods(http.MethodPost)
	r.HandleFunc("/oauth20_remoteconnect.srf", s.remoteConnect).Methods(http.MethodGet)
	r.HandleFunc("/device/authenticate", s.deviceAuthenticate).Methods(http.MethodPost)
	r.HandleFunc("/authorize", s.sisuAuthorize).Methods(http.MethodPost)
	r.Use(s.count)
	return r
}

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// URL returns the base URL.
func (s *Server) URL() string { return s.srv.URL }

// Endpoint URLs, in the shape the client configuration expects.
func (s *Server) ConnectURL() string       { return s.srv.URL + "/oauth20_connect.srf" }
func (s *Server) TokenURL() string         { return s.srv.URL + "/oauth20_token.srf" }
func (s *Server) RemoteConnectURL() string { return s.srv.URL + "/oauth20_remoteconnect.srf?otc=" }
func (s *Server) DeviceAuthURL() string    { return s.srv.URL + "/device/authenticate" }
func (s *Server) SisuURL() string          { return s.srv.URL + "/authorize" }

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Approve marks userCode as authorized, as if the user signed in.
func (s *Server) Approve(userCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.userCodes[userCode]
	if !ok {
		return false
	}
	s.codes[dc].approved = true
	return true
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = map[string]bool{}
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) next(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func oauthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("client_id") != s.ClientID || r.PostFormValue("scope") == "" {
		oauthError(w, "invalid_request")
		return
	}
	s.mu.Lock()
	dc, uc := s.next("D"), s.next("U")
	s.codes[dc] = &pendingCode{}
	s.userCodes[uc] = dc
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"user_code":        uc,
		"device_code":      dc,
		"verification_uri": "https://www.microsoft.com/link",
		"interval":         s.Interval,
		"expires_in":       s.ExpiresIn,
	})
}

// remoteConnect approves the code in ?otc=, standing in for the user.
func (s *Server) remoteConnect(w http.ResponseWriter, r *http.Request) {
	if !s.Approve(r.URL.Query().Get("otc")) {
		http.Error(w, "unknown code", http.StatusNotFound)
		return
	}
	io.WriteString(w, "signed in")
}

func (s *Server) pollToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("grant_type") != deviceCodeGrant || q.Get("client_id") != s.ClientID {
		oauthError(w, "unsupported_grant_type")
		return
	}
	s.mu.Lock()
	code, ok := s.codes[q.Get("device_code")]
	if !ok {
		s.mu.Unlock()
		oauthError(w, "invalid_grant")
		return
	}
	if !code.approved {
		s.mu.Unlock()
		oauthError(w, "authorization_pending")
		return
	}
	delete(s.codes, q.Get("device_code"))
	access, refresh := s.issueUserTokensLocked()
	s.mu.Unlock()

	// This grant reports expires_in in milliseconds.
	writeJSON(w, http.StatusOK, map[string]any{
		"token_type":    "bearer",
		"expires_in":    3600 * 1000,
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("grant_type") != "refresh_token" || r.PostFormValue("client_id") != s.ClientID {
		oauthError(w, "unsupported_grant_type")
		return
	}
	s.mu.Lock()
	rt := r.PostFormValue("refresh_token")
	if !s.refreshTokens[rt] {
		s.mu.Unlock()
		oauthError(w, "invalid_grant")
		return
	}
	delete(s.refreshTokens, rt)
	access, refresh := s.issueUserTokensLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token_type":    "bearer",
		"expires_in":    3600,
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) issueUserTokensLocked() (access, refresh string) {
	access, refresh = s.next("user"), s.next("refresh")
	s.userTokens[access] = true
	s.refreshTokens[refresh] = true
	return access, refresh
}

// verifySigned checks the signature header against the proof key at
// proofKeyPath in the body, and returns the parsed body.
func (s *Server) verifySigned(w http.ResponseWriter, r *http.Request, proofKeyPath string) (gjson.Result, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return gjson.Result{}, false
	}
	if r.Header.Get("x-xbl-contract-version") != "1" {
		http.Error(w, "missing contract version", http.StatusBadRequest)
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(body) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return gjson.Result{}, false
	}
	doc := gjson.ParseBytes(body)

	pub, err := device.ParseProofKey([]byte(doc.Get(proofKeyPath).Raw))
	if err != nil {
		w.Header().Set("X-Err", "2148916227")
		w.WriteHeader(http.StatusBadRequest)
		return gjson.Result{}, false
	}
	sig, err := device.DecodeSignature(r.Header.Get("signature"))
	if err == nil {
		err = device.Verify(pub, r.URL.RequestURI(), "", body, sig)
	}
	if err != nil {
		w.Header().Set("X-Err", "2148916236")
		w.WriteHeader(http.StatusUnauthorized)
		return gjson.Result{}, false
	}
	return doc, true
}

func notAfter(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.0000000Z")
}

func (s *Server) deviceAuthenticate(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.verifySigned(w, r, "Properties.ProofKey")
	if !ok {
		return
	}
	if doc.Get("Properties.AuthMethod").String() != "ProofOfPossession" ||
		doc.Get("Properties.Id").String() == "" ||
		doc.Get("RelyingParty").String() != "http://auth.xboxlive.com" {
		http.Error(w, "bad device request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	tok := s.next("device")
	s.deviceTokens[tok] = true
	s.mu.Unlock()

	now := s.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"IssueInstant":  notAfter(now),
		"NotAfter":      notAfter(now.Add(24 * time.Hour)),
		"Token":         tok,
		"DisplayClaims": map[string]any{"xdi": map[string]string{"did": doc.Get("Properties.Id").String()}},
	})
}

func (s *Server) sisuAuthorize(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.verifySigned(w, r, "ProofKey")
	if !ok {
		return
	}
	access := doc.Get("AccessToken").String()
	s.mu.Lock()
	validUser := len(access) > 2 && access[:2] == "t=" && s.userTokens[access[2:]]
	validDevice := s.deviceTokens[doc.Get("DeviceToken").String()]
	sisuToken := s.next("sisu")
	s.mu.Unlock()

	if !validUser || !validDevice || doc.Get("AppId").String() != s.ClientID {
		w.Header().Set("X-Err", "2148916233")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	now := s.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"AuthorizationToken": map[string]any{
			"IssueInstant": notAfter(now),
			"NotAfter":     notAfter(now.Add(16 * time.Hour)),
			"Token":        sisuToken,
			"DisplayClaims": map[string]any{
				"xui": []map[string]string{{
					"gtg": s.Profile.Gamertag,
					"xid": s.Profile.XUID,
					"uhs": s.Profile.UserHash,
				}},
			},
		},
	})
}
