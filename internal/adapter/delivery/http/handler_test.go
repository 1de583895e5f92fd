package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/suite"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) PingContext(_ context.Context) error {
	return p.err
}

type HandlersTestSuite struct {
	suite.Suite
	logger  *httplog.Logger
	pinger  *stubPinger
	counter prometheus.Counter
	server  *httptest.Server
	e       *httpexpect.Expect
}

func (suite *HandlersTestSuite) SetupSuite() {
	suite.logger = httplog.NewLogger("", httplog.Options{Writer: io.Discard})
}

func (suite *HandlersTestSuite) SetupSubTest() {
	suite.pinger = &stubPinger{}

	reg := prometheus.NewRegistry()
	suite.counter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_scans_total",
		Help: "Test counter",
	})
	reg.MustRegister(suite.counter)

	router := NewRouter(suite.logger, suite.pinger, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	suite.server = httptest.NewServer(router)
	suite.T().Cleanup(func() {
		suite.server.Close()
	})

	suite.e = httpexpect.Default(suite.T(), suite.server.URL)
}

func (suite *HandlersTestSuite) TestHealth() {
	const path = "/healthz"

	suite.Run("database down", func() {
		suite.pinger.err = errors.New("connection refused")

		resp := suite.e.GET(path).
			Expect().
			Status(http.StatusServiceUnavailable).
			JSON().Object()

		resp.HasValue("status", "error")
		resp.HasValue("database", "down")
	})

	suite.Run("success", func() {
		resp := suite.e.GET(path).
			Expect().
			Status(http.StatusOK).
			JSON().Object()

		resp.HasValue("status", "ok")
		resp.HasValue("database", "up")
	})
}

func (suite *HandlersTestSuite) TestMetrics() {
	suite.Run("exposes registered collectors", func() {
		suite.counter.Add(3)

		suite.e.GET("/metrics").
			Expect().
			Status(http.StatusOK).
			Text().Contains("test_scans_total 3")
	})

	suite.Run("method not allowed", func() {
		suite.e.POST("/metrics").
			Expect().
			Status(http.StatusMethodNotAllowed)
	})
}

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}
