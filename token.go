package treewire

import (
	"context"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// TokenSource asynchronously yields an access token or an error. The
// client never inspects how the token was obtained.
type TokenSource interface {
	AcquireToken(callback func(token string, err error))
}

type TokenSourceFunc func(callback func(token string, err error))

func (self TokenSourceFunc) AcquireToken(callback func(token string, err error)) {
	self(callback)
}

// StaticTokenSource passes a statically configured credential through
// unchanged. This is the default.
type StaticTokenSource struct {
	Token string
}

func (self *StaticTokenSource) AcquireToken(callback func(token string, err error)) {
	callback(self.Token, nil)
}

// JwtTokenSource yields a configured jwt credential, refusing it locally
// once its exp claim has passed rather than letting the remote reject it.
// The signature is not verified; only the remote can do that.
type JwtTokenSource struct {
	Jwt string
}

func (self *JwtTokenSource) AcquireToken(callback func(token string, err error)) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(self.Jwt, gojwt.MapClaims{})
	if err != nil {
		callback("", err)
		return
	}
	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		callback("", fmt.Errorf("unexpected claims type"))
		return
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		callback("", fmt.Errorf("credential expired at %s", exp.Format(time.RFC3339)))
		return
	}
	callback(self.Jwt, nil)
}

type tokenResult struct {
	token string
	err   error
}

// acquireToken adapts the callback capability to a blocking call bounded
// by ctx.
func acquireToken(ctx context.Context, tokenSource TokenSource) (string, error) {
	c := make(chan tokenResult, 1)
	go tokenSource.AcquireToken(func(token string, err error) {
		c <- tokenResult{
			token: token,
			err:   err,
		}
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-c:
		return result.token, result.err
	}
}
