package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"nardy-match-service/models"
	"nardy-match-service/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu      sync.Mutex
	results []services.GameResult
	gate    chan struct{} // when set, SaveGame blocks until it closes
}

func (f *fakeRecorder) SaveGame(result services.GameResult) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type fakeValidator struct{}

func (fakeValidator) ValidateToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}
	return "user-" + token, nil
}

type stubProfiles struct{}

func (stubProfiles) GetProfile(context.Context, string) (services.PlayerProfile, error) {
	return services.PlayerProfile{Rating: 1500}, nil
}

func newTestGateway(t *testing.T) (*GameGateway, *fakeRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	recorder := &fakeRecorder{}
	gw := NewGameGateway(
		NewHub(),
		services.NewRoomStore(rdb),
		services.NewRoomLocker(),
		services.NewMatchmakingService(rdb, stubProfiles{}),
		recorder,
		fakeValidator{},
	)
	return gw, recorder
}

func envelope(t *testing.T, event models.ClientEvent, payload interface{}) models.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return models.Envelope{Event: string(event), Data: raw}
}

func errorCode(t *testing.T, frame models.Envelope) string {
	t.Helper()
	require.Equal(t, models.PushError, frame.Event)
	var data struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	return data.Code
}

// connectedClient registers a client on the gateway hub, as the read loop
// would after a successful handshake.
func connectedClient(gw *GameGateway, userID string) (*Client, *fakeConn) {
	client, conn := newTestClient(userID)
	gw.Hub.Register(client)
	return client, conn
}

func TestPing(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	client, conn := connectedClient(gw, "u1")

	gw.dispatch(ctx, client, models.Envelope{Event: string(models.EventPing)})

	frame := conn.lastFrame(t)
	assert.Equal(t, models.PushPong, frame.Event)
}

func TestUnknownEvent(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	client, conn := connectedClient(gw, "u1")

	gw.dispatch(ctx, client, models.Envelope{Event: "self-destruct"})

	assert.Equal(t, "UNKNOWN_ACTION", errorCode(t, conn.lastFrame(t)))
}

func TestMalformedPayload(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	client, conn := connectedClient(gw, "u1")

	gw.dispatch(ctx, client, models.Envelope{
		Event: string(models.EventGameAction),
		Data:  json.RawMessage(`{"roomId":`),
	})

	assert.Equal(t, "BAD_REQUEST", errorCode(t, conn.lastFrame(t)))
}

func TestGameActionUnknownRoom(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	client, conn := connectedClient(gw, "u1")

	gw.dispatch(ctx, client, envelope(t, models.EventGameAction, models.GameActionData{
		RoomID: "no-such-room",
		Action: models.ActionRollDice,
	}))

	assert.Equal(t, "ROOM_NOT_FOUND", errorCode(t, conn.lastFrame(t)))
}

func TestGameActionRequiresParticipation(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	roomID, _, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.HumanSlot("u1"), models.HumanSlot("u2"))
	require.NoError(t, err)

	intruder, conn := connectedClient(gw, "u3")
	gw.dispatch(ctx, intruder, envelope(t, models.EventGameAction, models.GameActionData{
		RoomID: roomID,
		Action: models.ActionRollDice,
	}))

	assert.Equal(t, "NOT_IN_GAME", errorCode(t, conn.lastFrame(t)))
}

func TestRollDice(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	roomID, _, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.HumanSlot("u1"), models.HumanSlot("u2"))
	require.NoError(t, err)

	white, whiteConn := connectedClient(gw, "u1")
	black, blackConn := connectedClient(gw, "u2")
	gw.Hub.JoinRoom(roomID, white)
	gw.Hub.JoinRoom(roomID, black)

	gw.dispatch(ctx, white, envelope(t, models.EventGameAction, models.GameActionData{
		RoomID: roomID,
		Action: models.ActionRollDice,
	}))

	assert.Equal(t, []string{models.PushDiceRolled}, whiteConn.events())
	assert.Equal(t, []string{models.PushDiceRolled}, blackConn.events())

	state, err := gw.Rooms.GetState(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, state.Dice)
	assert.Equal(t, 1, state.DiceRollsCount.White)

	t.Run("second roll in the same turn is rejected", func(t *testing.T) {
		gw.dispatch(ctx, white, envelope(t, models.EventGameAction, models.GameActionData{
			RoomID: roomID,
			Action: models.ActionRollDice,
		}))
		assert.Equal(t, "DICE_ALREADY_ROLLED", errorCode(t, whiteConn.lastFrame(t)))

		after, err := gw.Rooms.GetState(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, 1, after.DiceRollsCount.White, "rejected roll must not count")
	})
}

func TestMakeMove(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	roomID, state, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.HumanSlot("u1"), models.HumanSlot("u2"))
	require.NoError(t, err)

	state.Dice = &models.Dice{Die1: 3, Die2: 5, RolledAt: time.Now()}
	require.NoError(t, gw.Rooms.SaveState(ctx, roomID, state))

	white, whiteConn := connectedClient(gw, "u1")
	gw.Hub.JoinRoom(roomID, white)

	gw.dispatch(ctx, white, envelope(t, models.EventGameAction, models.GameActionData{
		RoomID:  roomID,
		Action:  models.ActionMakeMove,
		Payload: models.MovePayload{From: 0, To: 3, DieValue: 3},
	}))

	assert.Equal(t, []string{models.PushGameStateUpdated}, whiteConn.events())

	after, err := gw.Rooms.GetState(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, -1, after.Board[0])
	assert.Equal(t, -1, after.Board[3])
	assert.Len(t, after.Moves, 1)
}

func TestMakeMoveRejected(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	roomID, state, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.HumanSlot("u1"), models.HumanSlot("u2"))
	require.NoError(t, err)
	before := state.Board

	white, whiteConn := connectedClient(gw, "u1")
	gw.Hub.JoinRoom(roomID, white)

	// Target point 5 is a black stack.
	gw.dispatch(ctx, white, envelope(t, models.EventGameAction, models.GameActionData{
		RoomID:  roomID,
		Action:  models.ActionMakeMove,
		Payload: models.MovePayload{From: 0, To: 5, DieValue: 5},
	}))

	assert.Equal(t, "INVALID_MOVE", errorCode(t, whiteConn.lastFrame(t)))

	after, err := gw.Rooms.GetState(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, before, after.Board, "rejected moves leave the state untouched")
}

func TestEndTurn(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	roomID, state, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.HumanSlot("u1"), models.HumanSlot("u2"))
	require.NoError(t, err)

	state.Dice = &models.Dice{Die1: 3, Die2: 5, RolledAt: time.Now()}
	require.NoError(t, gw.Rooms.SaveState(ctx, roomID, state))

	white, whiteConn := connectedClient(gw, "u1")
	black, blackConn := connectedClient(gw, "u2")
	gw.Hub.JoinRoom(roomID, white)
	gw.Hub.JoinRoom(roomID, black)

	gw.dispatch(ctx, white, envelope(t, models.EventGameAction, models.GameActionData{
		RoomID: roomID,
		Action: models.ActionEndTurn,
	}))

	assert.Equal(t, []string{models.PushTurnSwitched}, whiteConn.events())
	assert.Equal(t, []string{models.PushTurnSwitched}, blackConn.events())

	after, err := gw.Rooms.GetState(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.Black, after.CurrentPlayer)
	assert.Nil(t, after.Dice)
}

func TestWinningMoveEndsAndRecordsTheGame(t *testing.T) {
	gw, recorder := newTestGateway(t)
	ctx := context.Background()

	roomID, state, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.HumanSlot("u1"), models.HumanSlot("u2"))
	require.NoError(t, err)

	// White has one checker left on the board, the rest already off.
	state.Board = [24]int{}
	state.Board[0] = -1
	state.Board[23] = 15
	state.Home.White = 14
	state.Dice = &models.Dice{Die1: 1, Die2: 2, RolledAt: time.Now()}
	require.NoError(t, gw.Rooms.SaveState(ctx, roomID, state))

	white, whiteConn := connectedClient(gw, "u1")
	gw.Hub.JoinRoom(roomID, white)

	gw.dispatch(ctx, white, envelope(t, models.EventGameAction, models.GameActionData{
		RoomID:  roomID,
		Action:  models.ActionMakeMove,
		Payload: models.MovePayload{From: 0, To: -1, DieValue: 1},
	}))

	assert.Equal(t, []string{models.PushGameStateUpdated, models.PushGameEnded}, whiteConn.events())

	require.Eventually(t, func() bool { return recorder.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	recorder.mu.Lock()
	result := recorder.results[0]
	recorder.mu.Unlock()
	assert.Equal(t, roomID, result.RoomID)
	assert.Equal(t, "u1", result.WinnerID)
	assert.Equal(t, models.StatusFinished, result.State.Status)

	// The finished room is cleaned up.
	require.Eventually(t, func() bool {
		_, err := gw.Rooms.GetState(ctx, roomID)
		return errors.Is(err, services.ErrRoomNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

// TestFinishedMatchRejectsFurtherActions holds the recorder open so the
// finished room stays readable, then lets the loser try to keep playing.
// Every action must bounce and the match must still be recorded once.
func TestFinishedMatchRejectsFurtherActions(t *testing.T) {
	gw, recorder := newTestGateway(t)
	recorder.gate = make(chan struct{})
	ctx := context.Background()

	roomID, state, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.HumanSlot("u1"), models.HumanSlot("u2"))
	require.NoError(t, err)

	state.Board = [24]int{}
	state.Board[0] = -1
	state.Board[23] = 15
	state.Home.White = 14
	state.Dice = &models.Dice{Die1: 1, Die2: 2, RolledAt: time.Now()}
	require.NoError(t, gw.Rooms.SaveState(ctx, roomID, state))

	white, whiteConn := connectedClient(gw, "u1")
	black, blackConn := connectedClient(gw, "u2")
	gw.Hub.JoinRoom(roomID, white)
	gw.Hub.JoinRoom(roomID, black)

	gw.dispatch(ctx, white, envelope(t, models.EventGameAction, models.GameActionData{
		RoomID:  roomID,
		Action:  models.ActionMakeMove,
		Payload: models.MovePayload{From: 0, To: -1, DieValue: 1},
	}))

	for _, action := range []models.GameActionKind{
		models.ActionEndTurn,
		models.ActionRollDice,
		models.ActionMakeMove,
	} {
		gw.dispatch(ctx, black, envelope(t, models.EventGameAction, models.GameActionData{
			RoomID: roomID,
			Action: action,
		}))
		assert.Equalf(t, "GAME_NOT_ACTIVE", errorCode(t, blackConn.lastFrame(t)),
			"%s must not touch a finished match", action)
	}

	// Nothing was broadcast beyond the winning sequence.
	assert.Equal(t, []string{models.PushGameStateUpdated, models.PushGameEnded}, whiteConn.events())

	close(recorder.gate)
	require.Eventually(t, func() bool { return recorder.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	state, err = gw.Rooms.GetState(ctx, roomID)
	if err == nil {
		assert.Equal(t, models.StatusFinished, state.Status, "a finished match never reverts")
	} else {
		assert.ErrorIs(t, err, services.ErrRoomNotFound)
	}
}

func TestStartBotGame(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	client, conn := connectedClient(gw, "u1")

	gw.dispatch(ctx, client, envelope(t, models.EventStartBotGame, models.StartBotGameData{
		Mode: models.ModeShort,
	}))

	frame := conn.lastFrame(t)
	require.Equal(t, models.PushGameStarted, frame.Event)

	var data struct {
		RoomID    string            `json:"roomId"`
		GameState models.MatchState `json:"gameState"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	require.NotEmpty(t, data.RoomID)

	slots := []models.PlayerSlot{data.GameState.Players.White, data.GameState.Players.Black}
	var human, bot int
	for _, s := range slots {
		if s.IsBot() {
			bot++
		} else if s.UserID == "u1" {
			human++
		}
	}
	assert.Equal(t, 1, human)
	assert.Equal(t, 1, bot)

	foundRoom, err := gw.Rooms.GetRoomForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, data.RoomID, foundRoom)
}

func TestStartBotGameRejectsBadMode(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	client, conn := connectedClient(gw, "u1")

	gw.dispatch(ctx, client, envelope(t, models.EventStartBotGame, models.StartBotGameData{
		Mode: "TURBO",
	}))

	assert.Equal(t, "BAD_REQUEST", errorCode(t, conn.lastFrame(t)))
}

func TestQuickGameSearchThenMatch(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	first, firstConn := connectedClient(gw, "u1")
	gw.dispatch(ctx, first, envelope(t, models.EventStartQuickGame, models.StartQuickGameData{
		Mode: models.ModeShort,
	}))

	frame := firstConn.lastFrame(t)
	assert.Equal(t, models.PushSearching, frame.Event, "an empty queue leaves the caller searching")

	second, secondConn := connectedClient(gw, "u2")
	gw.dispatch(ctx, second, envelope(t, models.EventStartQuickGame, models.StartQuickGameData{
		Mode: models.ModeShort,
	}))

	assert.Equal(t, models.PushGameFound, secondConn.lastFrame(t).Event)
	assert.Equal(t, models.PushGameFound, firstConn.lastFrame(t).Event, "the queued player is notified through their connection")

	var data struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.Unmarshal(secondConn.lastFrame(t).Data, &data))

	state, err := gw.Rooms.GetState(ctx, data.RoomID)
	require.NoError(t, err)
	ids := map[string]bool{
		state.Players.White.UserID: true,
		state.Players.Black.UserID: true,
	}
	assert.True(t, ids["u1"] && ids["u2"])
}

func TestLeaveQueue(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	client, conn := connectedClient(gw, "u1")
	gw.dispatch(ctx, client, envelope(t, models.EventStartQuickGame, models.StartQuickGameData{
		Mode: models.ModeLong,
	}))
	gw.dispatch(ctx, client, envelope(t, models.EventLeaveQueue, nil))

	assert.Equal(t, models.PushQueueLeft, conn.lastFrame(t).Event)

	queued, err := gw.Matchmaking.IsQueued(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestJoinRoomNotifiesOthers(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	a, aConn := connectedClient(gw, "a")
	b, bConn := connectedClient(gw, "b")

	gw.dispatch(ctx, a, envelope(t, models.EventJoinRoom, models.JoinRoomData{RoomID: "room-1"}))
	gw.dispatch(ctx, b, envelope(t, models.EventJoinRoom, models.JoinRoomData{RoomID: "room-1"}))

	require.NotEmpty(t, aConn.events())
	assert.Equal(t, models.PushPlayerJoined, aConn.lastFrame(t).Event, "existing members hear about the newcomer")
	assert.Empty(t, bConn.events(), "the joiner gets no echo")
}

// TestBotTurn runs the full server-driven bot sequence synchronously: the
// call blocks through the bot's thinking delay, then the human side of the
// room must have seen roll, state update and turn switch, in that order.
func TestBotTurn(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	roomID, _, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.BotSlot(), models.HumanSlot("u1"))
	require.NoError(t, err)

	human, conn := connectedClient(gw, "u1")
	gw.Hub.JoinRoom(roomID, human)

	gw.runBotTurn(roomID)

	assert.Equal(t, []string{
		models.PushDiceRolled,
		models.PushGameStateUpdated,
		models.PushTurnSwitched,
	}, conn.events())

	after, err := gw.Rooms.GetState(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.Black, after.CurrentPlayer, "the turn lands back on the human")
	assert.Nil(t, after.Dice)
	assert.NotEmpty(t, after.Moves, "the opening position always has a legal move")
}

func TestBotTurnBailsWhenNotBotsTurn(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	// Human plays white and white is to move.
	roomID, _, err := gw.Rooms.CreateRoom(ctx, models.ModeShort, models.HumanSlot("u1"), models.BotSlot())
	require.NoError(t, err)

	human, conn := connectedClient(gw, "u1")
	gw.Hub.JoinRoom(roomID, human)

	gw.runBotTurn(roomID)

	assert.Empty(t, conn.events(), "a stale timer firing on the human's turn does nothing")
}
