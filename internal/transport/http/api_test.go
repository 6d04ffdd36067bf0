package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/cache"
	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/notify"
	"github.com/Additional-Code/loadmatch/internal/repository/assignment"
	orderrepo "github.com/Additional-Code/loadmatch/internal/repository/order"
	userrepo "github.com/Additional-Code/loadmatch/internal/repository/user"
	ordersvc "github.com/Additional-Code/loadmatch/internal/service/order"
	statssvc "github.com/Additional-Code/loadmatch/internal/service/stats"
	usersvc "github.com/Additional-Code/loadmatch/internal/service/user"
	"github.com/Additional-Code/loadmatch/internal/session"
	"github.com/Additional-Code/loadmatch/internal/testutil"
	transport "github.com/Additional-Code/loadmatch/internal/transport/http/middleware"
	ordertransport "github.com/Additional-Code/loadmatch/internal/transport/http/order"
	sessiontransport "github.com/Additional-Code/loadmatch/internal/transport/http/session"
	statstransport "github.com/Additional-Code/loadmatch/internal/transport/http/stats"
	usertransport "github.com/Additional-Code/loadmatch/internal/transport/http/user"
	"github.com/Additional-Code/loadmatch/internal/watch"
)

const tokenHeader = "X-Session-Token"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind string `json:"kind"`
	} `json:"error"`
}

type APISuite struct {
	suite.Suite
	server *httptest.Server
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	t := s.T()
	conns := testutil.OpenDB(t)
	logger := zap.NewNop()
	cfg := config.Config{
		Cache:     config.Cache{DefaultTTL: time.Minute},
		Lifecycle: config.Lifecycle{WatchPollInterval: time.Hour},
		Session:   config.Session{TTL: time.Hour, Header: tokenHeader},
	}

	orders := orderrepo.NewRepository(conns)
	users := userrepo.NewRepository(conns)
	store := cache.NewMemoryStore(time.Minute)

	members := assignment.NewRepository(conns)

	orderService, err := ordersvc.NewService(ordersvc.Params{
		Orders:      orders,
		Assignments: members,
		Users:       users,
		Notifier:    notify.NewLogNotifier(logger),
		Hub:         watch.NewHub(cfg, logger),
		Cache:       store,
		Config:      cfg,
		Logger:      logger,
	})
	require.NoError(t, err)
	sessions := session.NewStore(session.Params{Cache: store, Users: users, Config: cfg, Logger: logger})

	e := echo.New()
	e.Use(transport.Session(sessions, tokenHeader))
	usertransport.Register(e, usertransport.NewHandler(usersvc.NewService(users, logger)))
	sessiontransport.Register(e, sessiontransport.NewHandler(sessions))
	ordertransport.Register(e, ordertransport.NewHandler(orderService, logger))
	statstransport.Register(e, statstransport.NewHandler(statssvc.NewService(orders, members)))

	s.server = httptest.NewServer(e)
	t.Cleanup(s.server.Close)
}

func (s *APISuite) do(method, path, token, body string) (int, envelope) {
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp.StatusCode, env
}

func (s *APISuite) decode(raw json.RawMessage, dst any) {
	s.Require().NoError(json.Unmarshal(raw, dst))
}

// signIn registers a user and opens a session for them.
func (s *APISuite) signIn(name, role string) (int64, string) {
	status, env := s.do(http.MethodPost, "/users", "", fmt.Sprintf(`{"name":%q,"phone":"+7900","role":%q}`, name, role))
	s.Require().Equal(http.StatusCreated, status)
	var user struct {
		ID int64 `json:"id"`
	}
	s.decode(env.Data, &user)

	status, env = s.do(http.MethodPost, "/sessions", "", fmt.Sprintf(`{"user_id":%d}`, user.ID))
	s.Require().Equal(http.StatusCreated, status)
	var sess struct {
		Token string `json:"token"`
	}
	s.decode(env.Data, &sess)
	s.Require().NotEmpty(sess.Token)
	return user.ID, sess.Token
}

func (s *APISuite) createOrder(token, body string) int64 {
	status, env := s.do(http.MethodPost, "/orders", token, body)
	s.Require().Equal(http.StatusCreated, status)
	var order struct {
		ID int64 `json:"id"`
	}
	s.decode(env.Data, &order)
	return order.ID
}

func (s *APISuite) TestOrderLifecycle() {
	_, dispatcher := s.signIn("Anna", "DISPATCHER")
	loaderID, loader := s.signIn("Ivan", "LOADER")

	id := s.createOrder(dispatcher, `{"address":"Lenina 1","price_per_hour":"100","estimated_hours":4}`)

	status, env := s.do(http.MethodPost, fmt.Sprintf("/orders/%d/take", id), loader, "")
	s.Require().Equal(http.StatusOK, status)
	var taken struct {
		Status   string `json:"status"`
		WorkerID *int64 `json:"worker_id"`
	}
	s.decode(env.Data, &taken)
	s.Equal("TAKEN", taken.Status)
	s.Require().NotNil(taken.WorkerID)
	s.Equal(loaderID, *taken.WorkerID)

	status, env = s.do(http.MethodPost, fmt.Sprintf("/orders/%d/take", id), loader, "")
	s.Equal(http.StatusConflict, status)
	s.Equal("already_taken", env.Error.Kind)

	status, _ = s.do(http.MethodPost, fmt.Sprintf("/orders/%d/complete", id), loader, "")
	s.Require().Equal(http.StatusOK, status)
	status, _ = s.do(http.MethodPost, fmt.Sprintf("/orders/%d/rate", id), dispatcher, `{"rating":4}`)
	s.Require().Equal(http.StatusOK, status)

	status, env = s.do(http.MethodGet, fmt.Sprintf("/stats/workers/%d", loaderID), "", "")
	s.Require().Equal(http.StatusOK, status)
	var summary struct {
		CompletedOrders int      `json:"completed_orders"`
		TotalEarnings   string   `json:"total_earnings"`
		AverageRating   *float64 `json:"average_rating"`
	}
	s.decode(env.Data, &summary)
	s.Equal(1, summary.CompletedOrders)
	s.Equal("400.00", summary.TotalEarnings)
	s.Require().NotNil(summary.AverageRating)
	s.InDelta(4.0, *summary.AverageRating, 0.001)
}

func (s *APISuite) TestAccessRules() {
	_, dispatcher := s.signIn("Anna", "DISPATCHER")
	_, loader := s.signIn("Ivan", "LOADER")

	s.Run("should require a session to create", func() {
		status, env := s.do(http.MethodPost, "/orders", "", `{"address":"x","price_per_hour":"10"}`)
		s.Equal(http.StatusUnauthorized, status)
		s.Equal("unauthorized", env.Error.Kind)
	})

	s.Run("should reject loaders creating orders", func() {
		status, env := s.do(http.MethodPost, "/orders", loader, `{"address":"x","price_per_hour":"10"}`)
		s.Equal(http.StatusBadRequest, status)
		s.Equal("validation", env.Error.Kind)
	})

	s.Run("should reject rating floor above max", func() {
		status, env := s.do(http.MethodPost, "/orders", dispatcher, `{"address":"Mira 2","price_per_hour":"10","min_worker_rating":5.5}`)
		s.Equal(http.StatusBadRequest, status)
		s.Equal("validation", env.Error.Kind)
	})

	s.Run("should reject prices finer than cents", func() {
		status, env := s.do(http.MethodPost, "/orders", dispatcher, `{"address":"Mira 2","price_per_hour":"100.005"}`)
		s.Equal(http.StatusBadRequest, status)
		s.Equal("validation", env.Error.Kind)
	})

	s.Run("should reject malformed filters", func() {
		status, env := s.do(http.MethodGet, "/orders?status=LOST", "", "")
		s.Equal(http.StatusBadRequest, status)
		s.Equal("bad_request", env.Error.Kind)
	})

	s.Run("should return not found for unknown order", func() {
		status, env := s.do(http.MethodGet, "/orders/999", "", "")
		s.Equal(http.StatusNotFound, status)
		s.Equal("not_found", env.Error.Kind)
	})
}

func (s *APISuite) TestTransitionsCheckTheActor() {
	_, owner := s.signIn("Anna", "DISPATCHER")
	_, rival := s.signIn("Boris", "DISPATCHER")
	_, crew := s.signIn("Ivan", "LOADER")
	_, outsider := s.signIn("Oleg", "LOADER")

	open := s.createOrder(owner, `{"address":"Gate 1","price_per_hour":"30"}`)
	path := func(id int64, action string) string { return fmt.Sprintf("/orders/%d/%s", id, action) }

	s.Run("should require a session for every transition", func() {
		for _, action := range []string{"start", "complete", "cancel"} {
			status, env := s.do(http.MethodPost, path(open, action), "", "")
			s.Equal(http.StatusUnauthorized, status, action)
			s.Equal("unauthorized", env.Error.Kind, action)
		}
		status, _ := s.do(http.MethodPost, path(open, "rate"), "", `{"rating":5}`)
		s.Equal(http.StatusUnauthorized, status)
	})

	s.Run("should only let the owner cancel", func() {
		for _, token := range []string{crew, rival} {
			status, env := s.do(http.MethodPost, path(open, "cancel"), token, "")
			s.Equal(http.StatusForbidden, status)
			s.Equal("forbidden", env.Error.Kind)
		}

		status, env := s.do(http.MethodGet, fmt.Sprintf("/orders/%d", open), "", "")
		s.Require().Equal(http.StatusOK, status)
		var order struct {
			Status string `json:"status"`
		}
		s.decode(env.Data, &order)
		s.Equal("AVAILABLE", order.Status)

		status, _ = s.do(http.MethodPost, path(open, "cancel"), owner, "")
		s.Equal(http.StatusOK, status)
	})

	s.Run("should let only the crew or owner finish and only the owner rate", func() {
		id := s.createOrder(owner, `{"address":"Gate 2","price_per_hour":"30"}`)
		status, _ := s.do(http.MethodPost, path(id, "take"), crew, "")
		s.Require().Equal(http.StatusOK, status)

		status, env := s.do(http.MethodPost, path(id, "start"), outsider, "")
		s.Equal(http.StatusForbidden, status)
		s.Equal("forbidden", env.Error.Kind)
		status, _ = s.do(http.MethodPost, path(id, "complete"), rival, "")
		s.Equal(http.StatusForbidden, status)

		status, _ = s.do(http.MethodPost, path(id, "start"), crew, "")
		s.Require().Equal(http.StatusOK, status)
		status, _ = s.do(http.MethodPost, path(id, "complete"), owner, "")
		s.Require().Equal(http.StatusOK, status)

		status, _ = s.do(http.MethodPost, path(id, "rate"), crew, `{"rating":5}`)
		s.Equal(http.StatusForbidden, status)
		status, _ = s.do(http.MethodPost, path(id, "rate"), owner, `{"rating":5}`)
		s.Equal(http.StatusOK, status)
	})
}

func (s *APISuite) TestListAndWorkers() {
	_, dispatcher := s.signIn("Anna", "DISPATCHER")
	_, loader := s.signIn("Ivan", "LOADER")

	crewOrder := s.createOrder(dispatcher, `{"address":"Crew St","price_per_hour":"50","required_workers":2}`)
	s.createOrder(dispatcher, `{"address":"Solo St","price_per_hour":"50"}`)

	status, _ := s.do(http.MethodPost, fmt.Sprintf("/orders/%d/take", crewOrder), loader, "")
	s.Require().Equal(http.StatusOK, status)

	status, env := s.do(http.MethodGet, fmt.Sprintf("/orders/%d/workers", crewOrder), "", "")
	s.Require().Equal(http.StatusOK, status)
	var crew []map[string]any
	s.decode(env.Data, &crew)
	s.Len(crew, 1)

	status, env = s.do(http.MethodGet, "/orders?q=solo", "", "")
	s.Require().Equal(http.StatusOK, status)
	var found []struct {
		Address string `json:"address"`
	}
	s.decode(env.Data, &found)
	s.Require().Len(found, 1)
	s.Equal("Solo St", found[0].Address)

	status, env = s.do(http.MethodGet, "/orders", "", "")
	s.Require().Equal(http.StatusOK, status)
	var available []map[string]any
	s.decode(env.Data, &available)
	s.Len(available, 2, "partially staffed crew orders stay available")
}

func (s *APISuite) TestSessionPreferences() {
	_, token := s.signIn("Ivan", "LOADER")

	status, env := s.do(http.MethodPut, "/sessions/current/preferences", token, `{"preferences":{"theme":"dark"}}`)
	s.Require().Equal(http.StatusOK, status)
	var sess struct {
		Token       string            `json:"token"`
		Preferences map[string]string `json:"preferences"`
	}
	s.decode(env.Data, &sess)
	s.Empty(sess.Token)
	s.Equal("dark", sess.Preferences["theme"])

	status, _ = s.do(http.MethodDelete, "/sessions/current", token, "")
	s.Equal(http.StatusNoContent, status)

	status, env = s.do(http.MethodGet, "/sessions/current", token, "")
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("unauthorized", env.Error.Kind)
}

func (s *APISuite) TestWatchStream() {
	_, dispatcher := s.signIn("Anna", "DISPATCHER")
	s.createOrder(dispatcher, `{"address":"Stream St","price_per_hour":"20"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.server.URL+"/orders/watch", nil)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal("text/event-stream", resp.Header.Get(echo.HeaderContentType))

	reader := bufio.NewReader(resp.Body)
	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		s.Require().NoError(err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}

	var event struct {
		Orders []struct {
			Address string `json:"address"`
		} `json:"orders"`
	}
	require.NoError(s.T(), json.Unmarshal([]byte(data), &event))
	s.Require().Len(event.Orders, 1)
	assert.Equal(s.T(), "Stream St", event.Orders[0].Address)
}
