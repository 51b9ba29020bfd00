package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/crownarena/server/internal/auth"
	"github.com/crownarena/server/internal/battle"
	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/guard"
	"github.com/crownarena/server/internal/infra"
	"github.com/crownarena/server/internal/protocol"
	"github.com/crownarena/server/internal/world"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// GatewayConfig tunes connection admission and per-connection limits.
type GatewayConfig struct {
	MessagesPerSecond int
	ConnectsPerMinute int
	AllowedOrigins    []string
	CallTimeout       time.Duration
	WriteWait         time.Duration
}

// GatewayConfigFrom derives gateway settings from the app config.
func GatewayConfigFrom(cfg *infra.Config) GatewayConfig {
	return GatewayConfig{
		MessagesPerSecond: cfg.MessagesPerSecond,
		ConnectsPerMinute: cfg.ConnectAttempts,
		AllowedOrigins:    ParseOrigins(cfg.CORSAllowedOrigins),
		CallTimeout:       2 * time.Second,
		WriteWait:         cfg.WriteWait,
	}
}

// Gateway upgrades client connections and routes their frames to the world
// hub or to a battle session.
type Gateway struct {
	cfg      GatewayConfig
	world    *world.Hub
	conns    *infra.ConnHub
	jwt      *auth.JWTManager
	messages *guard.RateLimiter
	connects *guard.RateLimiter
	lockout  *guard.Lockout
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewGateway wires a gateway.
func NewGateway(cfg GatewayConfig, hub *world.Hub, conns *infra.ConnHub, jwtMgr *auth.JWTManager, clock clockwork.Clock, logger *slog.Logger) *Gateway {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 20
	}
	if cfg.ConnectsPerMinute <= 0 {
		cfg.ConnectsPerMinute = 30
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	g := &Gateway{
		cfg:      cfg,
		world:    hub,
		conns:    conns,
		jwt:      jwtMgr,
		messages: guard.NewRateLimiter(clock, cfg.MessagesPerSecond, time.Second),
		connects: guard.NewRateLimiter(clock, cfg.ConnectsPerMinute, time.Minute),
		lockout:  guard.NewLockout(clock),
		logger:   logger.With("component", "gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	return OriginAllowed(g.cfg.AllowedOrigins, origin)
}

// ServeWorld handles GET /ws. The connection becomes a world session with a
// fresh session id once the token checks out.
func (g *Gateway) ServeWorld(w http.ResponseWriter, r *http.Request) {
	remote := remoteKey(r)
	if err := g.admit(r.Context(), remote); err != nil {
		RespondError(w, err)
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("ws upgrade failed", "remote", remote, "error", err)
		return
	}
	claims, ok := g.authenticate(ws, r, remote)
	if !ok {
		return
	}

	ctx := r.Context()
	sessionID := uuid.NewString()
	conn := g.conns.Register(infra.ChannelWorld, sessionID, ws)
	go conn.WritePump()

	joinCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	_, err = g.world.Join(joinCtx, sessionID, claims.Identity())
	cancel()
	if err != nil {
		code, reason := protocol.CloseCodeFor(err)
		g.logger.Info("world join rejected", "user_id", claims.Subject, "code", code, "error", err)
		conn.Close(code, reason)
		g.conns.Unregister(conn)
		return
	}
	defer g.messages.Forget(conn.ID)
	defer g.world.Leave(sessionID)

	if err := conn.ReadPump(func(frame []byte) { g.handleWorld(ctx, conn, frame) }); err != nil {
		g.logger.Debug("world connection closed", "session_id", sessionID, "error", err)
	}
}

// ServeBattle handles GET /ws/battle/{battleID}. The session query parameter
// names the world session that was matched into the battle.
func (g *Gateway) ServeBattle(w http.ResponseWriter, r *http.Request) {
	remote := remoteKey(r)
	if err := g.admit(r.Context(), remote); err != nil {
		RespondError(w, err)
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("ws upgrade failed", "remote", remote, "error", err)
		return
	}
	claims, ok := g.authenticate(ws, r, remote)
	if !ok {
		return
	}

	battleID := chi.URLParam(r, "battleID")
	sessionID := r.URL.Query().Get("session")
	if rec, found := g.world.Player(sessionID); !found || rec.UserID != claims.Subject {
		infra.Reject(ws, protocol.CloseUnauthorized, "session does not belong to this token", g.cfg.WriteWait)
		return
	}
	sess, found := g.world.Battle(battleID)
	if !found {
		infra.Reject(ws, protocol.CloseRoomNotFound, "battle room not found", g.cfg.WriteWait)
		return
	}
	if !sess.IsParticipant(sessionID) {
		infra.Reject(ws, protocol.CloseRoomFull, "not a participant of this battle", g.cfg.WriteWait)
		return
	}

	ctx := r.Context()
	conn := g.conns.Register(infra.ChannelBattle, sessionID, ws)
	go conn.WritePump()

	joinCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	err = sess.Join(joinCtx, sessionID)
	cancel()
	if err != nil {
		code, reason := protocol.CloseCodeFor(err)
		g.logger.Info("battle join rejected", "battle_id", battleID, "session_id", sessionID, "code", code, "error", err)
		conn.Close(code, reason)
		g.conns.Unregister(conn)
		return
	}
	defer g.messages.Forget(conn.ID)
	defer func() {
		// A reconnect took over; the battle keeps the player.
		if !conn.Replaced() {
			sess.Disconnect(sessionID)
		}
	}()

	if err := conn.ReadPump(func(frame []byte) { g.handleBattle(ctx, conn, sess, frame) }); err != nil {
		g.logger.Debug("battle connection closed", "battle_id", battleID, "session_id", sessionID, "error", err)
	}
}

func (g *Gateway) admit(ctx context.Context, remote string) error {
	if err := g.lockout.CheckLocked(ctx, remote); err != nil {
		return err
	}
	if res := g.connects.Check(ctx, remote); !res.Allowed {
		return domain.ErrRateLimited(res.Reason)
	}
	return nil
}

func (g *Gateway) authenticate(ws *websocket.Conn, r *http.Request, remote string) (*auth.Claims, bool) {
	token, err := auth.TokenFromRequest(r)
	var claims *auth.Claims
	if err == nil {
		claims, err = g.jwt.ValidateTokenForRealm(token, auth.RealmPlayer)
	}
	if err != nil {
		g.lockout.RecordAttempt(remote, false)
		g.logger.Info("ws auth failed", "remote", remote, "error", err)
		infra.Reject(ws, protocol.CloseUnauthorized, "invalid or missing token", g.cfg.WriteWait)
		return nil, false
	}
	g.lockout.RecordAttempt(remote, true)
	return claims, true
}

func (g *Gateway) handleWorld(ctx context.Context, conn *infra.Conn, frame []byte) {
	env, ok := g.decode(ctx, conn, frame)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	id := conn.SessionID
	if env.Type != protocol.MsgHeartbeat {
		g.world.Touch(id)
	}

	var err error
	switch env.Type {
	case protocol.MsgSearchBattle:
		var req protocol.SearchBattleRequest
		if err = bind(env, &req); err == nil {
			prefs := domain.SearchPreferences{GameMode: req.GameMode, Region: req.Region}
			err = g.world.RequestSearch(ctx, id, req.Deck, prefs)
		}
	case protocol.MsgCancelSearch:
		err = g.world.CancelSearch(id)
	case protocol.MsgGetLeaderboard:
		var req protocol.LeaderboardRequest
		if err = bind(env, &req); err == nil {
			g.send(conn, protocol.MsgLeaderboard, protocol.Leaderboard{Players: g.world.Leaderboard(req.Limit)})
		}
	case protocol.MsgGetArenaInfo:
		var info protocol.ArenaInfo
		if info, err = g.world.ArenaInfo(id); err == nil {
			g.send(conn, protocol.MsgArenaInfo, info)
		}
	case protocol.MsgUpdateStatus:
		var req protocol.UpdateStatusRequest
		if err = bind(env, &req); err == nil {
			err = g.world.UpdateStatus(id, req.Status)
		}
	case protocol.MsgHeartbeat:
		_, err = g.world.Heartbeat(id)
	default:
		err = domain.ErrValidation(fmt.Sprintf("unknown message type %q", env.Type))
	}
	if err != nil {
		g.send(conn, protocol.MsgError, protocol.ErrorFrom(err))
	}
}

func (g *Gateway) handleBattle(ctx context.Context, conn *infra.Conn, sess *battle.Session, frame []byte) {
	env, ok := g.decode(ctx, conn, frame)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	id := conn.SessionID
	var err error
	switch env.Type {
	case protocol.MsgPlayerReady:
		sess.Ready(id)
	case protocol.MsgPlaceCard:
		var req protocol.PlaceCardRequest
		if err = bind(env, &req); err != nil {
			break
		}
		// Placement rejections already reached the player as card_error.
		var appErr *domain.AppError
		if perr := sess.PlaceCard(ctx, id, req.CardID, req.X, req.Y); perr != nil && !errors.As(perr, &appErr) {
			err = perr
		}
	case protocol.MsgEmote:
		var req protocol.EmoteRequest
		if err = bind(env, &req); err == nil {
			sess.Emote(id, req.Emote)
		}
	case protocol.MsgForfeit:
		sess.Forfeit(id)
	default:
		err = domain.ErrValidation(fmt.Sprintf("unknown message type %q", env.Type))
	}
	if err != nil {
		g.send(conn, protocol.MsgError, protocol.ErrorFrom(err))
	}
}

// decode applies the per-connection message rate and parses the envelope.
// A client over its rate is disconnected.
func (g *Gateway) decode(ctx context.Context, conn *infra.Conn, frame []byte) (protocol.Envelope, bool) {
	if res := g.messages.Check(ctx, conn.ID); !res.Allowed {
		g.logger.Warn("ws message rate exceeded", "session_id", conn.SessionID, "channel", conn.Channel)
		conn.Close(protocol.CloseRateLimited, "too many messages")
		return protocol.Envelope{}, false
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		g.send(conn, protocol.MsgError, protocol.ErrorFrom(domain.ErrValidation(err.Error())))
		return protocol.Envelope{}, false
	}
	return env, true
}

func (g *Gateway) send(conn *infra.Conn, msgType string, data any) {
	g.conns.Send(conn.Channel, conn.SessionID, msgType, data)
}

func bind(env protocol.Envelope, dst any) error {
	if err := env.Bind(dst); err != nil {
		return domain.ErrValidation(err.Error())
	}
	return nil
}

func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
