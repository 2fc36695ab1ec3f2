package worker

import (
	"fmt"

	"ezliveAnalytics/models"
)

// commandKind is the closed set of commands the worker understands. The wire
// carries open strings; anything that does not map here is ACKed as an
// unknown command and the worker keeps running.
type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdPing
	cmdPause
	cmdResume
	cmdSetModel
	cmdSetFps
	cmdAddStream
	cmdRemoveStream
	cmdRenameInstance
	cmdShutdown
)

func parseCommand(name string) commandKind {
	switch name {
	case models.CMD_PING:
		return cmdPing
	case models.CMD_PAUSE:
		return cmdPause
	case models.CMD_RESUME:
		return cmdResume
	case models.CMD_SET_MODEL:
		return cmdSetModel
	case models.CMD_SET_FPS:
		return cmdSetFps
	case models.CMD_ADD_STREAM:
		return cmdAddStream
	case models.CMD_REMOVE_STREAM:
		return cmdRemoveStream
	case models.CMD_RENAME_INSTANCE:
		return cmdRenameInstance
	case models.CMD_SHUTDOWN:
		return cmdShutdown
	}

	return cmdUnknown
}

func (k commandKind) isConfigChange() bool {
	switch k {
	case cmdSetModel, cmdSetFps, cmdAddStream, cmdRemoveStream:
		return true
	}

	return false
}

// Param readers. JSON numbers decode as float64; integer params tolerate
// both forms.

func paramString(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: missing param %q", ErrValidation, key)
	}

	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: param %q must be a non-empty string", ErrValidation, key)
	}

	return s, nil
}

func paramFloat(params map[string]interface{}, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing param %q", ErrValidation, key)
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}

	return 0, fmt.Errorf("%w: param %q must be a number", ErrValidation, key)
}

func paramInt(params map[string]interface{}, key string) (int, error) {
	f, err := paramFloat(params, key)
	if err != nil {
		return 0, err
	}

	if f != float64(int(f)) {
		return 0, fmt.Errorf("%w: param %q must be an integer", ErrValidation, key)
	}

	return int(f), nil
}
