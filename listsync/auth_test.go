package listsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func testAccessToken(t *testing.T, userId Id, expireTime time.Time) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": userId.String(),
		"exp": expireTime.Unix(),
	})
	accessToken, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)
	return accessToken
}

func TestParseSessionToken(t *testing.T) {
	userId := NewId()
	expireTime := time.Now().Add(time.Hour)
	accessToken := testAccessToken(t, userId, expireTime)

	session, err := ParseSessionToken(accessToken)
	assert.Equal(t, err, nil)
	assert.Equal(t, userId, session.UserId)
	assert.Equal(t, true, session.Active())

	_, err = ParseSessionToken("not a token")
	assert.NotEqual(t, err, nil)
}

func TestSignInWithPassword(t *testing.T) {
	userId := NewId()
	accessToken := testAccessToken(t, userId, time.Now().Add(time.Hour))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var args signInWithPasswordArgs
		json.NewDecoder(r.Body).Decode(&args)
		assert.Equal(t, "a@b.c", args.Email)
		json.NewEncoder(w).Encode(&signInWithPasswordResult{
			AccessToken:  accessToken,
			RefreshToken: "refresh",
			ExpiresIn:    3600,
		})
	}))
	defer server.Close()

	auth := NewAuthApi(context.Background(), server.URL, "anon")
	defer auth.Close()

	sessionChanges := 0
	auth.AddSessionChangeCallback(func(session *Session) {
		sessionChanges += 1
	})

	assert.Equal(t, auth.CurrentSession(), nil)

	session, err := auth.SignInWithPasswordSync("a@b.c", "pw")
	assert.Equal(t, err, nil)
	assert.Equal(t, userId, session.UserId)
	assert.Equal(t, "refresh", session.RefreshToken)
	assert.NotEqual(t, auth.CurrentSession(), nil)
	assert.Equal(t, 1, sessionChanges)

	auth.SignOut()
	assert.Equal(t, auth.CurrentSession(), nil)
	assert.Equal(t, 2, sessionChanges)
}

func TestSignInRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error_description": "Invalid login credentials",
		})
	}))
	defer server.Close()

	auth := NewAuthApi(context.Background(), server.URL, "anon")
	defer auth.Close()

	_, err := auth.SignInWithPasswordSync("a@b.c", "wrong")
	var unauthenticatedErr *UnauthenticatedError
	assert.Equal(t, true, errors.As(err, &unauthenticatedErr))
	assert.Equal(t, auth.CurrentSession(), nil)
}

func TestSetAccessToken(t *testing.T) {
	userId := NewId()
	accessToken := testAccessToken(t, userId, time.Now().Add(time.Hour))

	auth := NewAuthApi(context.Background(), "http://127.0.0.1:1", "anon")
	defer auth.Close()

	session, err := auth.SetAccessToken(accessToken)
	assert.Equal(t, err, nil)
	assert.Equal(t, userId, session.UserId)
	assert.NotEqual(t, auth.CurrentSession(), nil)

	// an expired token does not produce an active session
	expired := testAccessToken(t, userId, time.Now().Add(-time.Hour))
	_, err = auth.SetAccessToken(expired)
	assert.Equal(t, err, nil)
	assert.Equal(t, auth.CurrentSession(), nil)
}
