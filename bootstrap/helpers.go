package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ClassifyConnectionError provides specific error messages based on the type of Redis connection failure.
func ClassifyConnectionError(err error, addr string) string {
	if err == nil {
		return ""
	}

	errStr := strings.ToLower(err.Error())

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to Redis at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - Redis is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  - redis.op_timeout is too low for this network\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", addr, addr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) || strings.Contains(errStr, "connection refused") {
			return fmt.Sprintf("Connection refused by Redis at %s.\n"+
				"  This usually means Redis is not running.\n"+
				"  Remediation:\n"+
				"  - Start Redis: docker compose up -d redis\n"+
				"  - Verify redis.addr in config.yaml or BOOKGUARD_REDIS_ADDR", addr)
		}
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in Redis address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", addr)
	}

	if strings.Contains(errStr, "noauth") || strings.Contains(errStr, "wrongpass") || strings.Contains(errStr, "invalid password") {
		return fmt.Sprintf("Authentication failed for Redis at %s.\n"+
			"  Remediation:\n"+
			"  - Verify redis.password or BOOKGUARD_REDIS_PASSWORD\n"+
			"  - When a secrets provider is configured, check its redis_password entry", addr)
	}

	return fmt.Sprintf("Failed to connect to Redis at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure Redis is running and accessible\n"+
		"  - Check the redis.addr setting\n"+
		"  - Switch to csrf.store=memory for a single-instance deployment", addr, err)
}
