// Command client is a thin interactive terminal client for the chat
// protocol. It relays stdin lines to the server and prints server lines,
// and implements the owner-leave handshake: after OWNER_LEAVE_WARNING the
// next /LEAVE is sent as /FORCELEAVE.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync/atomic"
)

func main() {
	addr := flag.String("addr", "localhost:12345", "server address")
	name := flag.String("name", "", "username to set on connect")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *addr, err)
	}
	defer conn.Close()

	// set when OWNER_LEAVE_WARNING arrives, cleared on the next /LEAVE
	var leaveArmed atomic.Bool

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "OWNER_LEAVE_WARNING":
				leaveArmed.Store(true)
				fmt.Println("You are the room owner. Repeat /LEAVE to hand the room over and go.")
			case line == "KICKED_FROM_ROOM":
				fmt.Println("You have been removed from the room.")
			case strings.HasPrefix(line, "WELCOME:"):
				fmt.Println("Connected:", strings.TrimPrefix(line, "WELCOME:"))
			default:
				fmt.Println(line)
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("Connection error: %v", err)
		}
	}()

	if *name != "" {
		fmt.Fprintf(conn, "/SETNAME %s\n", *name)
	}

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}

		if strings.EqualFold(line, "/LEAVE") && leaveArmed.Swap(false) {
			line = "/FORCELEAVE"
		} else if !strings.EqualFold(line, "/LEAVE") {
			// any other activity cancels a pending confirmation
			leaveArmed.Store(false)
		}

		if _, err := fmt.Fprintln(conn, line); err != nil {
			log.Printf("Send failed: %v", err)
			break
		}
	}

	conn.Close()
	<-done
}
