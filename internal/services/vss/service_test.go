package vss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readyShadowJSON = `{"ID":"shadow-1","VolumeName":"C:\\","DeviceObject":"\\\\?\\GLOBALROOT\\Device\\HarddiskVolumeShadowCopy5"}`

// scriptExecutor dispatches on the PowerShell script content, standing in
// for the Win32_ShadowCopy interface.
type scriptExecutor struct {
	createID  string
	createErr error

	queryFunc func(call int) (string, error)
	queries   int

	creates  int
	removals []string
}

func (e *scriptExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	script := args[len(args)-1]
	switch {
	case strings.Contains(script, "MethodName Create"):
		e.creates++
		if e.createErr != nil {
			return nil, e.createErr
		}
		return []byte(e.createID + "\n"), nil
	case strings.Contains(script, "Remove-CimInstance"):
		e.removals = append(e.removals, script)
		return nil, nil
	case strings.Contains(script, "ConvertTo-Json"):
		e.queries++
		if e.queryFunc != nil {
			out, err := e.queryFunc(e.queries)
			return []byte(out), err
		}
		return []byte(readyShadowJSON), nil
	}
	return nil, fmt.Errorf("unexpected script: %s", script)
}

func (e *scriptExecutor) removedID(id string) bool {
	for _, script := range e.removals {
		if strings.Contains(script, id) {
			return true
		}
	}
	return false
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestCreateShadowCopies_MapsPathsOntoShadowDevice(t *testing.T) {
	exec := &scriptExecutor{createID: "shadow-1"}
	svc := New(testLogger(), exec)

	mapping, err := svc.CreateShadowCopies(context.Background(),
		[]string{`C:\Docs`, `C:\Users\h`}, "ClientAccessible", "", time.Minute, time.Second)
	require.NoError(t, err)

	// One shadow per distinct volume, both paths rewritten onto it.
	assert.Equal(t, 1, exec.creates)
	require.Len(t, mapping, 2)
	for orig, shadow := range mapping {
		assert.True(t, strings.HasPrefix(shadow, `\\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy5`),
			"%s mapped to %s", orig, shadow)
	}
}

func TestCreateShadowCopies_PollsUntilReady(t *testing.T) {
	exec := &scriptExecutor{
		createID: "shadow-1",
		queryFunc: func(call int) (string, error) {
			if call < 3 {
				return "", nil
			}
			return readyShadowJSON, nil
		},
	}
	svc := New(testLogger(), exec)

	_, err := svc.CreateShadowCopies(context.Background(),
		[]string{`C:\Docs`}, "ClientAccessible", "", time.Minute, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, exec.queries)
}

func TestCreateShadowCopies_QueryFailureKeepsShadowRemovable(t *testing.T) {
	exec := &scriptExecutor{
		createID: "shadow-1",
		queryFunc: func(int) (string, error) {
			return "", errors.New("rpc server unavailable")
		},
	}
	svc := New(testLogger(), exec)

	_, err := svc.CreateShadowCopies(context.Background(),
		[]string{`C:\Docs`}, "ClientAccessible", "", time.Minute, time.Millisecond)
	require.Error(t, err)

	// The Create call succeeded before the status query broke, so the copy
	// exists on the system and removal must still target it.
	require.NoError(t, svc.RemoveShadowCopies(context.Background()))
	assert.True(t, exec.removedID("shadow-1"))
}

func TestCreateShadowCopies_TimeoutKeepsShadowRemovable(t *testing.T) {
	exec := &scriptExecutor{
		createID: "shadow-1",
		queryFunc: func(int) (string, error) {
			return "", nil // never ready
		},
	}
	svc := New(testLogger(), exec)

	_, err := svc.CreateShadowCopies(context.Background(),
		[]string{`C:\Docs`}, "ClientAccessible", "", 0, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, svc.RemoveShadowCopies(context.Background()))
	assert.True(t, exec.removedID("shadow-1"))
}

func TestCreateShadowCopies_NoVolumesFails(t *testing.T) {
	svc := New(testLogger(), &scriptExecutor{})

	_, err := svc.CreateShadowCopies(context.Background(),
		[]string{"relative/path"}, "ClientAccessible", "", time.Minute, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no volumes")
}

func TestRemoveShadowCopies_SecondCallIsANoOp(t *testing.T) {
	exec := &scriptExecutor{createID: "shadow-1"}
	svc := New(testLogger(), exec)

	_, err := svc.CreateShadowCopies(context.Background(),
		[]string{`C:\Docs`}, "ClientAccessible", "", time.Minute, time.Second)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveShadowCopies(context.Background()))
	require.Len(t, exec.removals, 1)

	// Already released; nothing left to remove.
	require.NoError(t, svc.RemoveShadowCopies(context.Background()))
	assert.Len(t, exec.removals, 1)
}
