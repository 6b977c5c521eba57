// Package wire defines the JSON frames exchanged with game clients. Every
// frame is an envelope of the form {"type": ..., "data": ...}; outbound
// frames are flat objects carrying their own "type" field, mirroring what the
// browser client consumes.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Inbound frame types.
const (
	TypePing           = "PING"
	TypeStart          = "START"
	TypeMove           = "MOVE"
	TypeReset          = "RESET"
	TypeResign         = "RESIGN"
	TypeChat           = "CHAT"
	TypeSearchGameCode = "SEARCHGAMECODE"
)

// Outbound frame types.
const (
	TypePong         = "PONG"
	TypeInit         = "INIT"
	TypeUpdate       = "UPDATE"
	TypeError        = "ERROR"
	TypeInvalid      = "INVALID"
	TypeGameEvent    = "GAMEEVENT"
	TypeChatUpdate   = "CHATUPDATE"
	TypeSearchResult = "SEARCHRESULT"
)

// Game event names carried in GAMEEVENT frames.
const (
	EventCheckmate            = "CHECKMATE"
	EventInsufficientMaterial = "INSUFFICIENT MATERIAL"
	EventRepetition           = "REPETITION"
	EventStalemate            = "STALEMATE"
	EventResign               = "RESIGN"
	EventOpponentDisconnected = "OPPONENT_DISCONNECTED"
)

// Per-seat results carried in GAMEEVENT eventData.
const (
	ResultWin  = "win"
	ResultLoss = "loss"
	ResultDraw = "draw"
)

// Envelope is the inbound frame container. SEARCHGAMECODE carries its code at
// the top level instead of inside data; Code covers that quirk.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Code GameID          `json:"code,omitempty"`
}

// GameID accepts the session identifier either as a JSON string or a number;
// historic clients send both.
type GameID string

func (g *GameID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*g = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*g = GameID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("game id must be string or number: %w", err)
	}
	*g = GameID(n.String())
	return nil
}

func (g GameID) String() string { return string(g) }

// Flag accepts a boolean either as JSON true/false or as the strings
// "true"/"false"; the reference client sends both forms for againstAI.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("flag %q: %w", v, err)
		}
		*f = Flag(parsed)
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Flag(v)
	return nil
}

// StartRequest joins or creates a session. User is the opaque session token
// resolved through the identity collaborator, never a user id.
type StartRequest struct {
	User      string `json:"user"`
	GameID    GameID `json:"gameId"`
	AgainstAI Flag   `json:"againstAI"`
}

type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	GameID    GameID `json:"gameId"`
	User      string `json:"user"`
}

type ResetRequest struct {
	GameID GameID `json:"gameId"`
}

type ResignRequest struct {
	GameID GameID `json:"gameId"`
}

type ChatRequest struct {
	GameID  GameID `json:"gameId"`
	Message string `json:"message"`
}

// Player identifies a seat occupant as shown to clients.
type Player struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Elo      int    `json:"elo"`
}

// ChatMessage is one chat log entry.
type ChatMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MovePair is one entry of the transmitted move history.
type MovePair struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong { return Pong{Type: TypePong} }

// Init tells a freshly attached connection which color it plays.
type Init struct {
	Type  string `json:"type"`
	Color string `json:"color"`
}

func NewInit(color string) Init { return Init{Type: TypeInit, Color: color} }

// Update broadcasts a consistent position snapshot after an accepted move or
// a reset.
type Update struct {
	Type        string     `json:"type"`
	PGN         string     `json:"pgn"`
	History     []string   `json:"history"`
	MoveHistory []MovePair `json:"moveHistory"`
	Comment     string     `json:"comment"`
	InCheck     bool       `json:"inCheck"`
}

// StartNotice pairs the two seats once both are present.
type StartNotice struct {
	Type     string        `json:"type"`
	Opponent Player        `json:"opponent"`
	User     Player        `json:"user"`
	Chat     []ChatMessage `json:"chat"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(msg string) Error { return Error{Type: TypeError, Error: msg} }

// Invalid reports a rejected action to the acting connection only.
type Invalid struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewInvalid(msg string) Invalid { return Invalid{Type: TypeInvalid, Error: msg} }

// EventData carries the recipient's post-game rating and result.
type EventData struct {
	Elo    int    `json:"elo"`
	Result string `json:"result"`
}

type GameEvent struct {
	Type      string     `json:"type"`
	Event     string     `json:"event"`
	EventData *EventData `json:"eventData,omitempty"`
}

type ChatUpdate struct {
	Type     string        `json:"type"`
	GameChat []ChatMessage `json:"gameChat"`
}

type SearchResult struct {
	Type   string `json:"type"`
	Result string `json:"result"`
}
