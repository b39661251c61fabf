// Command pdm-console is the remote controller for a pdm device. It listens
// for the device's TCP connection, then sends one-digit commands and prints
// the decoded replies.
//
// Usage:
//
//	go run ./cmd/pdm-console [-port 3333] [-random] [-interval 5s]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lorsi96/pdm/internal/network/protocol"
)

const menu = `
-------------------------------------------------------
Choose one of the following options and press [Enter]
(0) Query Blink Speed.
(1) Query Server status.
(2) Toggle Bluetooth Server on/off.
(9) Exit.
-------------------------------------------------------
`

// errQuit is returned when the operator chooses to exit.
var errQuit = errors.New("quit")

func main() {
	port := flag.Int("port", 3333, "TCP port to listen on")
	random := flag.Bool("random", false, "send a random command every interval instead of showing the menu")
	interval := flag.Duration("interval", 5*time.Second, "pause between commands")
	replyTimeout := flag.Duration("reply-timeout", 3*time.Second, "how long to wait for a reply")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(*port))
	if err != nil {
		log.Fatalf("Bind failed: %v", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.Printf("Starting server on port %d", *port)

	stdin := bufio.NewScanner(os.Stdin)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Goodbye!")
				return
			}
			log.Fatalf("Accept failed: %v", err)
		}
		log.Printf("Connection from: %s", conn.RemoteAddr())

		if *random {
			err = runRandom(ctx, conn, *interval, *replyTimeout)
		} else {
			err = runMenu(ctx, conn, stdin, *interval, *replyTimeout)
		}
		conn.Close()

		switch {
		case errors.Is(err, errQuit):
			log.Println("Goodbye!")
			return
		case ctx.Err() != nil:
			log.Println("Goodbye!")
			return
		case err != nil:
			log.Printf("Connection closed: %v", err)
		}
	}
}

// runMenu prompts for commands until the operator exits or the device
// drops the connection.
func runMenu(ctx context.Context, conn net.Conn, stdin *bufio.Scanner, pause, timeout time.Duration) error {
	for ctx.Err() == nil {
		fmt.Print(menu)
		if !stdin.Scan() {
			return errQuit
		}
		choice := strings.TrimSpace(stdin.Text())
		if choice == "9" {
			return errQuit
		}
		code, err := strconv.ParseUint(choice, 10, 8)
		if err != nil || code > uint64(protocol.CommandToggleBluetooth) {
			fmt.Printf("Unknown option %q\n", choice)
			continue
		}

		cmd := protocol.Command(code)
		fmt.Println(cmd.Prompt())
		reply, err := exchange(conn, cmd, timeout)
		if err != nil {
			return err
		}
		if reply != nil {
			fmt.Println(protocol.DescribeReply(cmd, *reply))
		}
		sleep(ctx, pause)
	}
	return ctx.Err()
}

// runRandom sends a random command every pause until the device drops the
// connection.
func runRandom(ctx context.Context, conn net.Conn, pause, timeout time.Duration) error {
	for ctx.Err() == nil {
		cmd := protocol.Command(rand.Intn(3))
		fmt.Printf("Sending: %d (%s)\n", uint8(cmd), cmd)
		reply, err := exchange(conn, cmd, timeout)
		if err != nil {
			return err
		}
		if reply != nil {
			fmt.Printf("Received: %d (%s)\n", *reply, protocol.DescribeReply(cmd, *reply))
		}
		sleep(ctx, pause)
	}
	return ctx.Err()
}

// exchange sends cmd and waits up to timeout for the reply digit. A nil
// reply means the device stayed silent.
func exchange(conn net.Conn, cmd protocol.Command, timeout time.Duration) (*uint32, error) {
	b, err := protocol.Encode(uint8(cmd))
	if err != nil {
		return nil, err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write([]byte{b}); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if n == 0 {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			fmt.Println("No reply.")
			return nil, nil
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("receive: %w", err)
	}
	reply, err := protocol.Decode(buf[0])
	if err != nil {
		fmt.Printf("Unexpected reply: %v\n", err)
		return nil, nil
	}
	return &reply, nil
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
