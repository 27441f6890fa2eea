package lobby

import "github.com/rotisserie/eris"

var (
	ErrLobbyExists    = eris.New("lobby code already in use")
	ErrLobbyNotFound  = eris.New("lobby not found")
	ErrAlreadyRunning = eris.New("game already running")
	ErrNotRunning     = eris.New("game not running")
	ErrGameEnded      = eris.New("game has ended")
	ErrNotInLobby     = eris.New("client not in lobby")
	ErrLobbyFull      = eris.New("lobby is full")
	ErrTooManyLobbies = eris.New("lobby limit reached")
	ErrNoPlayers      = eris.New("no players in lobby")
	ErrInvalidCode    = eris.New("invalid lobby code")
)
