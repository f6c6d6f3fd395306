package listsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/golang/glog"
)

// process-wide authenticated session. initialized at startup,
// torn down at sign out. controllers read it, never mutate it.

type Session struct {
	AccessToken  string
	RefreshToken string
	UserId       Id
	ExpireTime   time.Time
}

func (self *Session) Active() bool {
	return self.ExpireTime.IsZero() || time.Now().Before(self.ExpireTime)
}

// the claims are read unverified. verification is the backend's job,
// the client only needs the identity for owned writes.
func ParseSessionToken(accessToken string) (*Session, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(accessToken, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	session := &Session{
		AccessToken: accessToken,
	}

	if sub, ok := claims["sub"]; ok {
		if subStr, ok := sub.(string); ok {
			if userId, err := ParseId(subStr); err == nil {
				session.UserId = userId
			}
		}
	}
	if exp, ok := claims["exp"]; ok {
		if expFloat, ok := exp.(float64); ok {
			session.ExpireTime = time.Unix(int64(expFloat), 0)
		}
	}

	if (session.UserId == Id{}) {
		return nil, fmt.Errorf("token has no subject")
	}

	return session, nil
}

type SessionChangeFunction = func(session *Session)

type AuthApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl  string
	anonKey string

	stateLock sync.Mutex
	session   *Session

	sessionChangeCallbacks *CallbackList[SessionChangeFunction]
}

func NewAuthApi(ctx context.Context, apiUrl string, anonKey string) *AuthApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &AuthApi{
		ctx:                    cancelCtx,
		cancel:                 cancel,
		apiUrl:                 apiUrl,
		anonKey:                anonKey,
		sessionChangeCallbacks: NewCallbackList[SessionChangeFunction](),
	}
}

// nullable
func (self *AuthApi) CurrentSession() *Session {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.session == nil || !self.session.Active() {
		return nil
	}
	return self.session
}

func (self *AuthApi) AddSessionChangeCallback(sessionChangeCallback SessionChangeFunction) func() {
	callbackId := self.sessionChangeCallbacks.Add(sessionChangeCallback)
	return func() {
		self.sessionChangeCallbacks.Remove(callbackId)
	}
}

// restore a session from a previously issued access token,
// e.g. from the environment or a credentials file
func (self *AuthApi) SetAccessToken(accessToken string) (*Session, error) {
	session, err := ParseSessionToken(accessToken)
	if err != nil {
		return nil, err
	}
	self.setSession(session)
	return session, nil
}

type signInWithPasswordArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInWithPasswordResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ErrorMessage string `json:"error_description,omitempty"`
}

func (self *AuthApi) SignInWithPassword(email string, password string, callback apiCallback[*Session]) {
	go self.signInWithPasswordSync2(email, password, callback)
}

func (self *AuthApi) SignInWithPasswordSync(email string, password string) (*Session, error) {
	return self.signInWithPasswordSync2(email, password, NewNoopApiCallback[*Session]())
}

func (self *AuthApi) signInWithPasswordSync2(email string, password string, callback apiCallback[*Session]) (*Session, error) {
	url := fmt.Sprintf("%s/auth/v1/token?grant_type=password", self.apiUrl)

	result := &signInWithPasswordResult{}
	err := self.post(url, &signInWithPasswordArgs{
		Email:    email,
		Password: password,
	}, result)
	if err != nil {
		callback.Result(nil, err)
		return nil, err
	}
	if result.AccessToken == "" {
		message := result.ErrorMessage
		if message == "" {
			message = "sign in rejected"
		}
		err = &UnauthenticatedError{}
		glog.Infof("[auth]sign in error = %s\n", message)
		callback.Result(nil, err)
		return nil, err
	}

	session, err := ParseSessionToken(result.AccessToken)
	if err != nil {
		callback.Result(nil, err)
		return nil, err
	}
	session.RefreshToken = result.RefreshToken
	if 0 < result.ExpiresIn {
		session.ExpireTime = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}

	self.setSession(session)
	callback.Result(session, nil)
	return session, nil
}

func (self *AuthApi) SignOut() {
	session := self.CurrentSession()
	if session != nil {
		url := fmt.Sprintf("%s/auth/v1/logout", self.apiUrl)
		// best effort. the local session is cleared either way.
		if err := self.post(url, nil, nil); err != nil {
			glog.V(2).Infof("[auth]sign out error = %s\n", err)
		}
	}
	self.setSession(nil)
}

func (self *AuthApi) Close() {
	self.cancel()
}

func (self *AuthApi) setSession(session *Session) {
	self.stateLock.Lock()
	self.session = session
	self.stateLock.Unlock()

	for _, sessionChangeCallback := range self.sessionChangeCallbacks.Get() {
		sessionChangeCallback(session)
	}
}

func (self *AuthApi) post(url string, args any, result any) error {
	var requestBodyBytes []byte
	if args != nil {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(self.ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("apikey", self.anonKey)
	if session := self.CurrentSession(); session != nil {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", session.AccessToken))
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		return &TransportError{
			Err: err,
		}
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return &TransportError{
			Err: err,
		}
	}

	if 400 <= r.StatusCode {
		if r.StatusCode == 401 || r.StatusCode == 403 || r.StatusCode == 400 {
			return &UnauthenticatedError{}
		}
		return &TransportError{
			Err: fmt.Errorf("status %d: %s", r.StatusCode, strings.TrimSpace(string(responseBodyBytes))),
		}
	}

	if result != nil && 0 < len(responseBodyBytes) {
		if err := json.Unmarshal(responseBodyBytes, result); err != nil {
			return &TransportError{
				Err: err,
			}
		}
	}
	return nil
}
