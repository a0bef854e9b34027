package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"diomy/internal/http/handlers"
	httpmiddleware "diomy/internal/http/middleware"
	"diomy/internal/logging"
	"diomy/internal/modules/feed"
	"diomy/internal/modules/realtime"
	"diomy/internal/modules/trip"
	"diomy/internal/types"
)

type idleFeed struct{}

func (idleFeed) Subscribe(ctx context.Context, _ types.ID) (<-chan feed.ChangeEvent, func(), error) {
	return make(chan feed.ChangeEvent), func() {}, nil
}

// endedTrips has no active trip and one trip that was cancelled at endedAt.
type endedTrips struct {
	endedAt time.Time
}

func (endedTrips) ActiveFor(context.Context, types.ID) (*trip.Trip, error) {
	return nil, trip.ErrNotFound
}

func (e endedTrips) LastEndedFor(_ context.Context, actorID types.ID, since time.Time) (*trip.Trip, error) {
	if !e.endedAt.After(since) {
		return nil, trip.ErrNotFound
	}
	at := e.endedAt
	reason := "requester no-show"
	return &trip.Trip{
		ID: "t-ended", RequesterID: actorID, Status: trip.StatusCancelled, StatusVersion: 3,
		CancelReason: &reason, CancelledAt: &at,
	}, nil
}

func newRealtimeServer(t *testing.T, trips realtime.Trips) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(makeVerifier("req-1", "requester")))
	rh := handlers.NewRealtimeHandler(realtime.Deps{Feed: idleFeed{}, Trips: trips, Log: logging.Nop()}, logging.Nop())
	r.GET("/ws", rh.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, since string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if since != "" {
		u += "?since=" + url.QueryEscape(since)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Authorization": {"Bearer good"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDirective(t *testing.T, conn *websocket.Conn) realtime.Directive {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var d realtime.Directive
	if err := conn.ReadJSON(&d); err != nil {
		t.Fatalf("read directive: %v", err)
	}
	return d
}

func TestRealtime_ReconnectReplaysCancellation(t *testing.T) {
	srv := newRealtimeServer(t, endedTrips{endedAt: time.Now().Add(-30 * time.Second)})
	conn := dialWS(t, srv, time.Now().Add(-time.Minute).Format(time.RFC3339))

	alert := readDirective(t, conn)
	if alert.Kind != realtime.KindAlert || alert.TripID != "t-ended" {
		t.Fatalf("first directive = %+v, want the cancellation alert", alert)
	}
	if v := readDirective(t, conn); v.Kind != realtime.KindView || v.View != realtime.ViewIdle {
		t.Fatalf("second directive = %+v, want idle view", v)
	}
}

func TestRealtime_SinceAfterEndShowsIdle(t *testing.T) {
	srv := newRealtimeServer(t, endedTrips{endedAt: time.Now().Add(-2 * time.Minute)})
	conn := dialWS(t, srv, time.Now().Add(-time.Minute).Format(time.RFC3339))

	if d := readDirective(t, conn); d.Kind != realtime.KindView || d.View != realtime.ViewIdle {
		t.Fatalf("directive = %+v, want idle view", d)
	}
}

func TestRealtime_RejectsMalformedSince(t *testing.T) {
	srv := newRealtimeServer(t, endedTrips{})
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?since=yesterday"
	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Authorization": {"Bearer good"}})
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}
