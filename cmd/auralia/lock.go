package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/realSUDO/Auralia/internal/sys"
)

const pidFile = ".bot.pid"

// acquireLock takes an exclusive flock on the PID file, terminating a
// previous instance that still holds it. The returned func releases it.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open PID file: %w", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			_ = f.Close()
			return nil, fmt.Errorf("failed to lock PID file: %w", err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil {
			// The holder has not written its PID yet.
			<-ticker.C
			continue
		}
		if oldPid == os.Getpid() {
			break
		}
		terminate(oldPid, ticker)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		sys.LogWarn(sys.MsgBotPIDWriteFail, err)
	}
	_ = f.Sync()

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(path)
	}, nil
}

// terminate asks pid to exit and escalates to SIGKILL after five seconds.
func terminate(pid int, ticker *time.Ticker) {
	process, err := os.FindProcess(pid)
	if err != nil {
		<-ticker.C
		return
	}

	sys.LogInfo(sys.MsgBotKillingOld, pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		sys.LogWarn(sys.MsgBotKillFail, err)
	}
	if waitExit(process, ticker, 5*time.Second) {
		sys.LogInfo(sys.MsgBotOldTerminated)
		return
	}

	sys.LogWarn("Old process %d is stubborn. Sending SIGKILL...", pid)
	_ = process.Signal(syscall.SIGKILL)
	if !waitExit(process, ticker, 2*time.Second) {
		sys.LogWarn("Process %d still exists after SIGKILL", pid)
		return
	}
	sys.LogInfo(sys.MsgBotOldTerminated)
}

func waitExit(process *os.Process, ticker *time.Ticker, limit time.Duration) bool {
	timeout := time.After(limit)
	for {
		select {
		case <-ticker.C:
			if err := process.Signal(syscall.Signal(0)); err != nil {
				return true
			}
		case <-timeout:
			return false
		}
	}
}
