package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"strings"
	"time"

	"nardy-match-service/engine"
	"nardy-match-service/models"
	"nardy-match-service/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// botTurnDelay is the fixed gap between a triggering action and the bot
// picking up its turn. The bot adds its own 1-3s "thinking" delay on top.
const botTurnDelay = 2 * time.Second

// TokenValidator resolves a client access token to a user ID at handshake
// time. Implemented by services.AuthServiceClient.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// GameRecorder receives finished matches for durable storage. Invoked
// fire-and-forget; the gateway only cares that the attempt was made.
type GameRecorder interface {
	SaveGame(result services.GameResult) error
}

// GameGateway is the websocket session layer: it authenticates connections,
// dispatches the client protocol, broadcasts room events and drives bot
// turns. It owns no game state — everything authoritative lives in the
// RoomStore, mutated under the per-room lock.
type GameGateway struct {
	Hub         *Hub
	Rooms       *services.RoomStore
	Locks       *services.RoomLocker
	Matchmaking *services.MatchmakingService
	History     GameRecorder
	Auth        TokenValidator
}

func NewGameGateway(hub *Hub, rooms *services.RoomStore, locks *services.RoomLocker,
	mm *services.MatchmakingService, history GameRecorder, auth TokenValidator) *GameGateway {
	return &GameGateway{
		Hub:         hub,
		Rooms:       rooms,
		Locks:       locks,
		Matchmaking: mm,
		History:     history,
		Auth:        auth,
	}
}

// SetupGatewayRoutes mounts the websocket endpoint. Authentication happens
// once, before the upgrade: a bad token is refused with 401 and no session
// is ever created.
func SetupGatewayRoutes(app *fiber.App, gw *GameGateway) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing access token"})
		}
		userID, err := gw.Auth.ValidateToken(token)
		if err != nil {
			log.Printf("🚫 [GATEWAY] Rejected websocket handshake: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid access token"})
		}
		c.Locals("user_id", userID)
		return c.Next()
	})
	app.Get("/ws", websocket.New(gw.HandleConnection))
}

// HandleConnection runs the per-connection read loop. Each inbound frame is
// processed to completion before the next is read, but frames from other
// connections — including the other player of the same room — run
// concurrently against the shared state.
func (g *GameGateway) HandleConnection(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	if userID == "" {
		conn.Close()
		return
	}

	client := NewClient(userID, conn)
	g.Hub.Register(client)
	defer g.Hub.Unregister(client)

	// One context per connection: in-flight store calls stop when the
	// socket goes away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("🔌 [GATEWAY] User %s connected", userID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			g.sendError(client, "BAD_REQUEST", "malformed frame")
			continue
		}
		g.dispatch(ctx, client, env)
	}

	log.Printf("🔌 [GATEWAY] User %s disconnected", userID)
}

// dispatch routes one inbound frame. The event set is closed: every
// ClientEvent is handled here and anything else is rejected.
func (g *GameGateway) dispatch(ctx context.Context, client *Client, env models.Envelope) {
	switch models.ClientEvent(env.Event) {
	case models.EventJoinRoom:
		var data models.JoinRoomData
		if !g.decode(client, env.Data, &data) {
			return
		}
		g.handleJoinRoom(client, data)
	case models.EventLeaveRoom:
		var data models.JoinRoomData
		if !g.decode(client, env.Data, &data) {
			return
		}
		g.handleLeaveRoom(client, data)
	case models.EventGameAction:
		var data models.GameActionData
		if !g.decode(client, env.Data, &data) {
			return
		}
		g.handleGameAction(ctx, client, data)
	case models.EventStartBotGame:
		var data models.StartBotGameData
		if !g.decode(client, env.Data, &data) {
			return
		}
		g.handleStartBotGame(ctx, client, data)
	case models.EventStartQuickGame:
		var data models.StartQuickGameData
		if !g.decode(client, env.Data, &data) {
			return
		}
		g.handleStartQuickGame(ctx, client, data)
	case models.EventLeaveQueue:
		g.handleLeaveQueue(ctx, client)
	case models.EventPing:
		client.Send(models.PushPong, fiber.Map{"timestamp": time.Now().UnixMilli()})
	default:
		g.sendError(client, "UNKNOWN_ACTION", "unknown event: "+env.Event)
	}
}

func (g *GameGateway) decode(client *Client, raw json.RawMessage, out interface{}) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		g.sendError(client, "BAD_REQUEST", "malformed payload")
		return false
	}
	return true
}

func (g *GameGateway) sendError(client *Client, code, message string) {
	client.Send(models.PushError, fiber.Map{"code": code, "message": message})
}

func (g *GameGateway) handleJoinRoom(client *Client, data models.JoinRoomData) {
	if data.RoomID == "" {
		g.sendError(client, "BAD_REQUEST", "roomId is required")
		return
	}
	g.Hub.JoinRoom(data.RoomID, client)
	g.Hub.SendToRoomExcept(data.RoomID, client.UserID, models.PushPlayerJoined, fiber.Map{
		"roomId": data.RoomID,
		"userId": client.UserID,
	})
}

func (g *GameGateway) handleLeaveRoom(client *Client, data models.JoinRoomData) {
	if data.RoomID == "" {
		g.sendError(client, "BAD_REQUEST", "roomId is required")
		return
	}
	g.Hub.LeaveRoom(data.RoomID, client)
	g.Hub.SendToRoom(data.RoomID, models.PushPlayerLeft, fiber.Map{
		"roomId": data.RoomID,
		"userId": client.UserID,
	})
}

// handleGameAction serializes every read-modify-write on a room through
// its lock, so the two players and the bot timer can never interleave
// half-applied updates.
func (g *GameGateway) handleGameAction(ctx context.Context, client *Client, data models.GameActionData) {
	if data.RoomID == "" {
		g.sendError(client, "BAD_REQUEST", "roomId is required")
		return
	}

	unlock := g.Locks.Lock(data.RoomID)
	defer unlock()

	state, err := g.Rooms.GetState(ctx, data.RoomID)
	if errors.Is(err, services.ErrRoomNotFound) {
		g.sendError(client, "ROOM_NOT_FOUND", "room does not exist or has expired")
		return
	}
	if err != nil {
		log.Printf("[GATEWAY] Failed to load room %s: %v", data.RoomID, err)
		g.sendError(client, "INTERNAL", "failed to load room")
		return
	}

	// Either listed participant may act; the current-turn color is not
	// checked against the actor (kept from the observed behavior).
	actorColor, ok := state.Players.ColorOf(client.UserID)
	if !ok {
		g.sendError(client, "NOT_IN_GAME", "you are not a participant of this room")
		return
	}

	// A finished match stays readable until the detached cleanup deletes
	// it; it must never accept another action.
	if state.Status != models.StatusInProgress {
		g.sendError(client, "GAME_NOT_ACTIVE", "match is no longer in progress")
		return
	}

	switch data.Action {
	case models.ActionRollDice:
		g.rollDice(ctx, client, data.RoomID, state, actorColor)
	case models.ActionMakeMove:
		g.makeMove(ctx, client, data.RoomID, state, data.Payload)
	case models.ActionEndTurn:
		g.endTurn(ctx, client, data.RoomID, state)
	default:
		g.sendError(client, "UNKNOWN_ACTION", "unknown game action: "+string(data.Action))
	}
}

func (g *GameGateway) rollDice(ctx context.Context, client *Client, roomID string, state models.MatchState, actorColor models.Color) {
	if state.Dice != nil {
		g.sendError(client, "DICE_ALREADY_ROLLED", "dice were already rolled this turn")
		return
	}

	dice := engine.RollDice()
	state.Dice = &dice
	state.DiceRollsCount.Incr(state.CurrentPlayer)

	if err := g.Rooms.SaveState(ctx, roomID, state); err != nil {
		log.Printf("[GATEWAY] Failed to save room %s after roll: %v", roomID, err)
		g.sendError(client, "INTERNAL", "failed to save state")
		return
	}

	g.Hub.SendToRoom(roomID, models.PushDiceRolled, fiber.Map{
		"roomId": roomID,
		"dice":   dice,
		"player": state.CurrentPlayer,
	})

	if state.Players.Slot(actorColor.Opponent()).IsBot() {
		g.scheduleBotTurn(roomID)
	}
}

func (g *GameGateway) makeMove(ctx context.Context, client *Client, roomID string, state models.MatchState, mv models.MovePayload) {
	next, err := engine.ApplyMove(state, mv.From, mv.To, mv.DieValue)
	if err != nil {
		g.sendError(client, "INVALID_MOVE", "move is not legal in the current position")
		return
	}
	state = next

	finished, winner := engine.CheckEnd(state)
	if finished {
		state.Status = models.StatusFinished
	}

	if err := g.Rooms.SaveState(ctx, roomID, state); err != nil {
		log.Printf("[GATEWAY] Failed to save room %s after move: %v", roomID, err)
		g.sendError(client, "INTERNAL", "failed to save state")
		return
	}

	g.Hub.SendToRoom(roomID, models.PushGameStateUpdated, fiber.Map{
		"roomId":    roomID,
		"gameState": state,
	})

	if finished {
		g.finishMatch(roomID, state, winner)
	}
}

func (g *GameGateway) endTurn(ctx context.Context, client *Client, roomID string, state models.MatchState) {
	state = engine.SwitchTurn(state)

	if err := g.Rooms.SaveState(ctx, roomID, state); err != nil {
		log.Printf("[GATEWAY] Failed to save room %s after turn switch: %v", roomID, err)
		g.sendError(client, "INTERNAL", "failed to save state")
		return
	}

	g.Hub.SendToRoom(roomID, models.PushTurnSwitched, fiber.Map{
		"roomId":        roomID,
		"currentPlayer": state.CurrentPlayer,
	})

	if state.Players.Slot(state.CurrentPlayer).IsBot() {
		g.scheduleBotTurn(roomID)
	}
}

func (g *GameGateway) handleStartBotGame(ctx context.Context, client *Client, data models.StartBotGameData) {
	mode := data.Mode
	if mode != models.ModeShort && mode != models.ModeLong {
		g.sendError(client, "BAD_REQUEST", "mode must be SHORT or LONG")
		return
	}

	human := models.HumanSlot(client.UserID)
	bot := models.BotSlot()
	white, black := human, bot
	if rand.Intn(2) == 0 {
		white, black = bot, human
	}

	roomID, state, err := g.Rooms.CreateRoom(ctx, mode, white, black)
	if err != nil {
		log.Printf("[GATEWAY] Failed to create bot room for %s: %v", client.UserID, err)
		g.sendError(client, "INTERNAL", "failed to create room")
		return
	}

	g.Hub.JoinRoom(roomID, client)
	client.Send(models.PushGameStarted, fiber.Map{
		"roomId":    roomID,
		"gameState": state,
	})

	if state.Players.Slot(state.CurrentPlayer).IsBot() {
		g.scheduleBotTurn(roomID)
	}
}

// handleStartQuickGame enqueues the caller and immediately tries to pair.
// On success the room exists before either reply goes out; the matched
// opponent is notified through their registered connection, if any. On
// failure the caller just gets "searching" — the room will be created by
// whichever queued player's own call completes the pairing later.
func (g *GameGateway) handleStartQuickGame(ctx context.Context, client *Client, data models.StartQuickGameData) {
	mode := data.Mode
	if mode != models.ModeShort && mode != models.ModeLong {
		g.sendError(client, "BAD_REQUEST", "mode must be SHORT or LONG")
		return
	}

	if _, err := g.Matchmaking.Join(ctx, client.UserID, mode, data.BetAmount, data.DistrictID); err != nil {
		log.Printf("[GATEWAY] Failed to enqueue %s: %v", client.UserID, err)
		g.sendError(client, "INTERNAL", "failed to join matchmaking queue")
		return
	}

	opponent, err := g.Matchmaking.FindOpponent(ctx, client.UserID, mode, data.BetAmount, data.DistrictID)
	if err != nil {
		log.Printf("[GATEWAY] Matchmaking search failed for %s: %v", client.UserID, err)
		g.sendError(client, "INTERNAL", "matchmaking search failed")
		return
	}
	if opponent == nil {
		client.Send(models.PushSearching, fiber.Map{"mode": mode})
		return
	}

	caller := models.HumanSlot(client.UserID)
	matched := models.HumanSlot(opponent.UserID)
	white, black := caller, matched
	if rand.Intn(2) == 0 {
		white, black = matched, caller
	}

	roomID, state, err := g.Rooms.CreateRoom(ctx, mode, white, black)
	if err != nil {
		log.Printf("[GATEWAY] Failed to create quick-game room: %v", err)
		g.sendError(client, "INTERNAL", "failed to create room")
		return
	}

	g.Hub.JoinRoom(roomID, client)

	payload := fiber.Map{
		"roomId":    roomID,
		"gameState": state,
	}
	client.Send(models.PushGameFound, payload)
	if !g.Hub.SendToUser(opponent.UserID, models.PushGameFound, payload) {
		log.Printf("[GATEWAY] Matched opponent %s has no live connection for room %s", opponent.UserID, roomID)
	}
}

func (g *GameGateway) handleLeaveQueue(ctx context.Context, client *Client) {
	if err := g.Matchmaking.Leave(ctx, client.UserID); err != nil {
		log.Printf("[GATEWAY] Failed to dequeue %s: %v", client.UserID, err)
		g.sendError(client, "INTERNAL", "failed to leave queue")
		return
	}
	client.Send(models.PushQueueLeft, fiber.Map{})
}

// scheduleBotTurn arms a one-shot timer for the room. The timer is never
// cancelled by disconnects; when it fires it re-reads the room and does
// nothing unless it is actually the bot's turn in a live match.
func (g *GameGateway) scheduleBotTurn(roomID string) {
	time.AfterFunc(botTurnDelay, func() {
		g.runBotTurn(roomID)
	})
}

// runBotTurn executes the server-driven bot sequence: roll, pick a move
// against the just-rolled state, apply, then finish or switch. It mirrors
// the human flow but runs as one unit under the room lock, so only this
// room waits out the bot's thinking delay.
func (g *GameGateway) runBotTurn(roomID string) {
	unlock := g.Locks.Lock(roomID)
	defer unlock()

	ctx := context.Background()
	state, err := g.Rooms.GetState(ctx, roomID)
	if err != nil {
		return // room expired or gone; nothing to do
	}
	if state.Status != models.StatusInProgress {
		return
	}
	if !state.Players.Slot(state.CurrentPlayer).IsBot() {
		return
	}

	if state.Dice == nil {
		dice := engine.RollDice()
		state.Dice = &dice
		state.DiceRollsCount.Incr(state.CurrentPlayer)
		if err := g.Rooms.SaveState(ctx, roomID, state); err != nil {
			log.Printf("[GATEWAY] Failed to save bot roll for room %s: %v", roomID, err)
			return
		}
		g.Hub.SendToRoom(roomID, models.PushDiceRolled, fiber.Map{
			"roomId": roomID,
			"dice":   dice,
			"player": state.CurrentPlayer,
		})
	}

	if mv, ok := engine.Play(ctx, state); ok {
		next, err := engine.ApplyMove(state, mv.From, mv.To, mv.Die)
		if err != nil {
			log.Printf("[GATEWAY] Bot produced an illegal move in room %s: %+v", roomID, mv)
		} else {
			state = next
		}
	}

	finished, winner := engine.CheckEnd(state)
	if finished {
		state.Status = models.StatusFinished
	} else {
		state = engine.SwitchTurn(state)
	}

	if err := g.Rooms.SaveState(ctx, roomID, state); err != nil {
		log.Printf("[GATEWAY] Failed to save bot turn for room %s: %v", roomID, err)
		return
	}

	g.Hub.SendToRoom(roomID, models.PushGameStateUpdated, fiber.Map{
		"roomId":    roomID,
		"gameState": state,
	})

	if finished {
		g.finishMatch(roomID, state, winner)
		return
	}

	g.Hub.SendToRoom(roomID, models.PushTurnSwitched, fiber.Map{
		"roomId":        roomID,
		"currentPlayer": state.CurrentPlayer,
	})
}

// finishMatch broadcasts the result and hands the match to the history
// collaborator exactly once — callers only reach here on the
// IN_PROGRESS → FINISHED transition, which happens under the room lock.
// Recording and room deletion run detached so the acting connection never
// waits on the database.
func (g *GameGateway) finishMatch(roomID string, state models.MatchState, winner models.Color) {
	g.Hub.SendToRoom(roomID, models.PushGameEnded, fiber.Map{
		"roomId":   roomID,
		"winner":   winner,
		"winnerId": state.Players.Slot(winner).UserID,
	})

	go func() {
		result := services.GameResult{
			RoomID:        roomID,
			Mode:          state.Mode,
			WhitePlayerID: state.Players.White.UserID,
			BlackPlayerID: state.Players.Black.UserID,
			WinnerID:      state.Players.Slot(winner).UserID,
			State:         state,
			Duration:      time.Since(state.CreatedAt),
		}
		if err := g.History.SaveGame(result); err != nil {
			log.Printf("❌ [GATEWAY] Failed to record finished game in room %s: %v", roomID, err)
		}
		if err := g.Rooms.DeleteRoom(context.Background(), roomID); err != nil {
			log.Printf("[GATEWAY] Failed to delete finished room %s: %v", roomID, err)
		}
	}()
}
