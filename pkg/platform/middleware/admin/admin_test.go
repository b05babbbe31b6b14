package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

// The invariant under test: a wrong or missing token never reaches the handler.
type AdminMiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestAdminMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AdminMiddlewareSuite))
}

func (s *AdminMiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *AdminMiddlewareSuite) serve(expected, token, actor string) (int, bool, string) {
	called := false
	var seenActor string
	h := RequireAdminToken(expected, s.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seenActor = ActorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodDelete, "/admin/usage/x", nil)
	if token != "" {
		req.Header.Set(HeaderAdminToken, token)
	}
	if actor != "" {
		req.Header.Set(HeaderAdminActorID, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, called, seenActor
}

func (s *AdminMiddlewareSuite) TestCorrectTokenPassesWithActor() {
	code, called, actor := s.serve("secret", "secret", "ops-alice")
	s.Equal(http.StatusNoContent, code)
	s.True(called)
	s.Equal("ops-alice", actor)
}

func (s *AdminMiddlewareSuite) TestRejections() {
	cases := map[string][2]string{
		"wrong token":     {"secret", "guess"},
		"missing token":   {"secret", ""},
		"admin disabled":  {"", ""},
		"prefix of token": {"secret", "sec"},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			code, called, _ := s.serve(tc[0], tc[1], "")
			s.Equal(http.StatusUnauthorized, code)
			s.False(called)
		})
	}
}

func (s *AdminMiddlewareSuite) TestActorIDOutsideAdminGroup() {
	s.Empty(ActorID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
