//go:build linux

package main

// SocketCAN only exists on Linux; pulling it in here keeps the command
// buildable everywhere else with the virtual transport alone.
import _ "github.com/lgabp1/zdt-gocan-driver/transport/socketcan"
