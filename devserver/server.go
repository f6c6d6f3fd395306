package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/google/uuid"

	"github.com/gorilla/mux"

	"golang.org/x/crypto/bcrypt"
)

const tokenLifetime = 1 * time.Hour

var collections = map[string]bool{
	"tasks":          true,
	"shopping_items": true,
}

// per-collection column defaults applied on insert
var insertDefaults = map[string]map[string]any{
	"tasks": {
		"title":     "",
		"completed": false,
	},
	"shopping_items": {
		"name":      "",
		"quantity":  1,
		"completed": false,
	},
}

var textColumn = map[string]string{
	"tasks":          "title",
	"shopping_items": "name",
}

type devUser struct {
	userId       string
	email        string
	passwordHash string
}

type devServer struct {
	jwtSecret []byte

	stateLock sync.Mutex
	users     map[string]*devUser
	// collection -> id -> row
	rows map[string]map[string]map[string]any

	hub *changeHub
}

func newDevServer(jwtSecret string) *devServer {
	rows := map[string]map[string]map[string]any{}
	for collection := range collections {
		rows[collection] = map[string]map[string]any{}
	}
	return &devServer{
		jwtSecret: []byte(jwtSecret),
		users:     map[string]*devUser{},
		rows:      rows,
		hub:       newChangeHub(),
	}
}

func (self *devServer) AddUser(email string, password string) error {
	passwordHashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.users[email] = &devUser{
		userId:       uuid.New().String(),
		email:        email,
		passwordHash: string(passwordHashBytes),
	}
	return nil
}

func (self *devServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.HandleFunc("/auth/v1/token", self.TokenHandler).Methods("POST")
	r.HandleFunc("/auth/v1/logout", self.LogoutHandler).Methods("POST")
	r.HandleFunc("/rest/v1/{collection}", self.FetchHandler).Methods("GET")
	r.HandleFunc("/rest/v1/{collection}", self.InsertHandler).Methods("POST")
	r.HandleFunc("/rest/v1/{collection}", self.UpdateHandler).Methods("PATCH")
	r.HandleFunc("/rest/v1/{collection}", self.DeleteHandler).Methods("DELETE")
	r.HandleFunc("/realtime/v1/websocket", self.hub.Handler)
	return r
}

func (self *devServer) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("grant_type") != "password" {
		httpError(w, http.StatusBadRequest, "unsupported grant type")
		return
	}
	var args struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		httpError(w, http.StatusBadRequest, "bad request body")
		return
	}

	self.stateLock.Lock()
	user, ok := self.users[args.Email]
	self.stateLock.Unlock()

	if !ok || bcrypt.CompareHashAndPassword([]byte(user.passwordHash), []byte(args.Password)) != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error_description": "Invalid login credentials",
		})
		return
	}

	expireTime := time.Now().Add(tokenLifetime)
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": user.userId,
		"exp": expireTime.Unix(),
	})
	accessToken, err := token.SignedString(self.jwtSecret)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "token signing failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  accessToken,
		"refresh_token": uuid.New().String(),
		"expires_in":    int(tokenLifetime.Seconds()),
		"token_type":    "bearer",
	})
}

func (self *devServer) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// the bearer token scopes every row operation to its subject
func (self *devServer) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		httpError(w, http.StatusUnauthorized, "missing bearer token")
		return "", false
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")
	token, err := gojwt.Parse(tokenStr, func(token *gojwt.Token) (any, error) {
		return self.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		httpError(w, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	claims := token.Claims.(gojwt.MapClaims)
	sub, _ := claims["sub"].(string)
	if sub == "" {
		httpError(w, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return sub, true
}

func (self *devServer) collection(w http.ResponseWriter, r *http.Request) (string, bool) {
	collection := mux.Vars(r)["collection"]
	if !collections[collection] {
		httpError(w, http.StatusNotFound, "unknown collection")
		return "", false
	}
	return collection, true
}

func (self *devServer) FetchHandler(w http.ResponseWriter, r *http.Request) {
	userId, ok := self.authorize(w, r)
	if !ok {
		return
	}
	collection, ok := self.collection(w, r)
	if !ok {
		return
	}

	self.stateLock.Lock()
	rows := []map[string]any{}
	for _, row := range self.rows[collection] {
		if row["user_id"] == userId {
			rows = append(rows, copyRow(row))
		}
	}
	self.stateLock.Unlock()

	// newest first
	sort.Slice(rows, func(i int, j int) bool {
		return rows[j]["created_at"].(string) < rows[i]["created_at"].(string)
	})

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit < len(rows) {
			rows = rows[:limit]
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

func (self *devServer) InsertHandler(w http.ResponseWriter, r *http.Request) {
	userId, ok := self.authorize(w, r)
	if !ok {
		return
	}
	collection, ok := self.collection(w, r)
	if !ok {
		return
	}

	var fieldsList []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fieldsList); err != nil || len(fieldsList) == 0 {
		httpError(w, http.StatusBadRequest, "bad request body")
		return
	}

	inserted := []map[string]any{}
	for _, fields := range fieldsList {
		row := map[string]any{}
		for column, value := range insertDefaults[collection] {
			row[column] = value
		}
		for column, value := range fields {
			row[column] = value
		}
		if text, _ := row[textColumn[collection]].(string); strings.TrimSpace(text) == "" {
			httpError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s must not be empty", textColumn[collection]))
			return
		}

		// server-assigned columns win over anything client-supplied
		row["id"] = uuid.New().String()
		row["user_id"] = userId
		row["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)

		self.stateLock.Lock()
		self.rows[collection][row["id"].(string)] = row
		rowCopy := copyRow(row)
		self.stateLock.Unlock()

		inserted = append(inserted, rowCopy)
		self.hub.Broadcast(collection, "INSERT", rowCopy, nil)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		json.NewEncoder(w).Encode(inserted)
	}
}

func idFilter(r *http.Request) (string, bool) {
	filter := r.URL.Query().Get("id")
	if !strings.HasPrefix(filter, "eq.") {
		return "", false
	}
	return strings.TrimPrefix(filter, "eq."), true
}

func (self *devServer) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	userId, ok := self.authorize(w, r)
	if !ok {
		return
	}
	collection, ok := self.collection(w, r)
	if !ok {
		return
	}
	rowId, ok := idFilter(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "missing id filter")
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httpError(w, http.StatusBadRequest, "bad request body")
		return
	}

	self.stateLock.Lock()
	row, ok := self.rows[collection][rowId]
	if !ok || row["user_id"] != userId {
		self.stateLock.Unlock()
		// zero rows matched
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{})
		return
	}
	for column, value := range patch {
		switch column {
		case "id", "user_id", "created_at":
			// immutable
		default:
			row[column] = value
		}
	}
	rowCopy := copyRow(row)
	self.stateLock.Unlock()

	self.hub.Broadcast(collection, "UPDATE", rowCopy, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode([]map[string]any{rowCopy})
}

func (self *devServer) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	userId, ok := self.authorize(w, r)
	if !ok {
		return
	}
	collection, ok := self.collection(w, r)
	if !ok {
		return
	}
	rowId, ok := idFilter(r)
	if !ok {
		httpError(w, http.StatusBadRequest, "missing id filter")
		return
	}

	self.stateLock.Lock()
	row, ok := self.rows[collection][rowId]
	if ok && row["user_id"] == userId {
		delete(self.rows[collection], rowId)
	} else {
		ok = false
	}
	self.stateLock.Unlock()

	if ok {
		self.hub.Broadcast(collection, "DELETE", nil, map[string]any{"id": rowId})
	}

	// deletes are idempotent
	w.WriteHeader(http.StatusNoContent)
}

func httpError(w http.ResponseWriter, statusCode int, message string) {
	http.Error(w, message, statusCode)
}

// stored rows are only touched under stateLock. anything handed to an
// encoder or the hub is a copy.
func copyRow(row map[string]any) map[string]any {
	rowCopy := map[string]any{}
	for column, value := range row {
		rowCopy[column] = value
	}
	return rowCopy
}
