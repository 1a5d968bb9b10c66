package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/PuerkitoBio/purell"
	"github.com/adrg/xdg"
	comatproto "github.com/redblock-app/chainblock/api/atproto"
	"github.com/redblock-app/chainblock/xrpc"
	cli "github.com/urfave/cli/v2"
)

var ErrNoAuthSession = errors.New("no auth session found; run 'chainblock login' first")

const authSessionFile = "chainblock/auth-session.json"

type AuthSession struct {
	DID          string `json:"did"`
	Handle       string `json:"handle"`
	Password     string `json:"password"`
	RefreshToken string `json:"session_token"`
	PDS          string `json:"pds"`
}

var loginCmd = &cli.Command{
	Name:  "login",
	Usage: "create an auth session and save it for later commands",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "handle",
			Aliases:  []string{"u"},
			Usage:    "account identifier (handle or DID)",
			Required: true,
			EnvVars:  []string{"CHAINBLOCK_HANDLE"},
		},
		&cli.StringFlag{
			Name:     "password",
			Aliases:  []string{"p"},
			Usage:    "password (app password recommended)",
			Required: true,
			EnvVars:  []string{"CHAINBLOCK_PASSWORD"},
		},
	},
	Action: runLogin,
}

func runLogin(cctx *cli.Context) error {
	ctx := cctx.Context
	sess, err := createAuthSession(ctx, cctx.String("pds-host"), cctx.String("handle"), cctx.String("password"))
	if err != nil {
		return err
	}
	if err := persistAuthSession(sess); err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", sess.Handle, sess.DID)
	return nil
}

// normalizeHost cleans up a user-supplied service URL, so that the saved
// session doesn't depend on how it was typed.
func normalizeHost(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	host, err := purell.NormalizeURLString(raw, purell.FlagsSafe|purell.FlagRemoveTrailingSlash|purell.FlagRemoveDuplicateSlashes)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return host, nil
}

func createAuthSession(ctx context.Context, pdsHost, identifier, password string) (*AuthSession, error) {
	pdsHost, err := normalizeHost(pdsHost)
	if err != nil {
		return nil, err
	}
	client := xrpc.Client{
		Client: xrpc.RobustHTTPClient(nil),
		Host:   pdsHost,
	}
	out, err := comatproto.ServerCreateSession(ctx, &client, &comatproto.ServerCreateSession_Input{
		Identifier: identifier,
		Password:   password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session for %s: %w", identifier, err)
	}
	return &AuthSession{
		DID:          out.Did,
		Handle:       out.Handle,
		Password:     password,
		RefreshToken: out.RefreshJwt,
		PDS:          pdsHost,
	}, nil
}

func persistAuthSession(sess *AuthSession) error {

	fPath, err := xdg.StateFile(authSessionFile)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(fPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	authBytes, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	_, err = f.Write(authBytes)
	return err
}

// loadAuthClient refreshes the saved session, falling back to the saved
// password when the refresh token has expired.
func loadAuthClient(ctx context.Context, logger *slog.Logger) (*xrpc.Client, error) {

	fPath, err := xdg.SearchStateFile(authSessionFile)
	if err != nil {
		return nil, ErrNoAuthSession
	}

	fBytes, err := os.ReadFile(fPath)
	if err != nil {
		return nil, err
	}

	var sess AuthSession
	if err := json.Unmarshal(fBytes, &sess); err != nil {
		return nil, err
	}

	client, err := refreshClient(ctx, &sess, logger)
	if err != nil {
		logger.Info("refresh failed, logging in again with saved password", "did", sess.DID, "err", err)
		fresh, err := createAuthSession(ctx, sess.PDS, sess.DID, sess.Password)
		if err != nil {
			return nil, err
		}
		client, err = refreshClient(ctx, fresh, logger)
		if err != nil {
			return nil, err
		}
		sess = *fresh
	}
	sess.RefreshToken = client.Auth.RefreshJwt
	if err := persistAuthSession(&sess); err != nil {
		logger.Warn("failed to save refreshed auth session", "err", err)
	}
	return client, nil
}

func refreshClient(ctx context.Context, sess *AuthSession, logger *slog.Logger) (*xrpc.Client, error) {
	client := xrpc.Client{
		Client: xrpc.RobustHTTPClient(logger),
		Host:   sess.PDS,
		Auth: &xrpc.AuthInfo{
			Did: sess.DID,
			// NOTE: using refresh in access location for "refreshSession" call
			AccessJwt:  sess.RefreshToken,
			RefreshJwt: sess.RefreshToken,
		},
	}
	resp, err := comatproto.ServerRefreshSession(ctx, &client)
	if err != nil {
		return nil, err
	}
	client.Auth.AccessJwt = resp.AccessJwt
	client.Auth.RefreshJwt = resp.RefreshJwt
	client.Auth.Handle = resp.Handle
	return &client, nil
}

// altClients logs in the alternate reader accounts, given as
// "identifier:password" pairs. The password is everything after the last
// colon, so DIDs work as identifiers.
func altClients(ctx context.Context, pdsHost string, creds []string, logger *slog.Logger) ([]*xrpc.Client, error) {
	var out []*xrpc.Client
	for _, cred := range creds {
		i := strings.LastIndex(cred, ":")
		if i <= 0 || i == len(cred)-1 {
			return nil, fmt.Errorf("alternate account must be given as identifier:password")
		}
		sess, err := createAuthSession(ctx, pdsHost, cred[:i], cred[i+1:])
		if err != nil {
			return nil, err
		}
		client, err := refreshClient(ctx, sess, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("alternate reader ready", "did", sess.DID, "handle", sess.Handle)
		out = append(out, client)
	}
	return out, nil
}
