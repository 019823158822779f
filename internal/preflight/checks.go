package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists, is
// readable/writable, and has at least minFreeMiB of free space. A zero
// minimum skips the space check.
func CheckDirectoryAccess(_ context.Context, name, path string, minFreeMiB int) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	if minFreeMiB > 0 {
		free, err := FreeMiB(path)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
		}
		if free < uint64(minFreeMiB) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: %d MiB free, need %d)", path, free, minFreeMiB)}
		}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// FreeMiB returns the space available to unprivileged users at path.
func FreeMiB(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize) / (1 << 20), nil
}

// CheckAMQP verifies that the broker accepts a connection.
func CheckAMQP(ctx context.Context, url string) Result {
	const name = "Message broker"
	if url == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("connect failed (%v)", err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}
