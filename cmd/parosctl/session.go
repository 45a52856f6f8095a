package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	paros "github.com/parosapp/paros-go"
	"github.com/parosapp/paros-go/token"
	"github.com/pkg/errors"
)

// storedSession is the on-disk session format. The SDK keeps sessions in
// memory only; carrying them across process restarts is this side of the
// boundary.
type storedSession struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         paros.User `json:"user"`
}

func saveSession(sess paros.Session) error {
	if err := os.MkdirAll(filepath.Dir(sessionFile), 0o700); err != nil {
		return errors.Wrap(err, "saveSession")
	}
	encoded, err := json.MarshalIndent(storedSession{
		AccessToken:  sess.Tokens.Access,
		RefreshToken: sess.Tokens.Refresh,
		User:         sess.User,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "saveSession")
	}
	if err := os.WriteFile(sessionFile, encoded, 0o600); err != nil {
		return errors.Wrap(err, "saveSession")
	}
	return nil
}

func loadSession() (paros.Session, bool) {
	raw, err := os.ReadFile(sessionFile)
	if err != nil {
		return paros.Session{}, false
	}
	var stored storedSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		return paros.Session{}, false
	}
	if stored.AccessToken == "" || stored.RefreshToken == "" {
		return paros.Session{}, false
	}
	return paros.Session{
		Tokens: token.Pair{Access: stored.AccessToken, Refresh: stored.RefreshToken},
		User:   stored.User,
	}, true
}

func removeSession() error {
	if err := os.Remove(sessionFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removeSession")
	}
	return nil
}
