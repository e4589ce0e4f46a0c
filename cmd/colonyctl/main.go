// Command colonyctl is a console client for a running colonysim.
//
//	colonyctl status
//	colonyctl activities <agent-id> [sol]
//	colonyctl save [file-name]
//	colonyctl pause | resume
//	colonyctl speed <multiplier>
//	colonyctl interrupt <agent-id> [reason]
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/console"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Configuration from environment.
	apiURL := envOrDefault("COLONYSIM_API_URL", "http://localhost:8080")
	client := console.NewClient(apiURL, os.Getenv("COLONYSIM_ADMIN_KEY"))

	if err := run(client, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(c *console.Client, cmd string, args []string) error {
	switch cmd {
	case "status":
		st, err := c.Status()
		if err != nil {
			return err
		}
		state := "running"
		if st.Paused {
			state = "paused"
		}
		fmt.Printf("%s  tick %d  speed %.1fx  %s\n", st.SimTime, st.Tick, st.Speed, state)
		fmt.Printf("people %d  robots %d  vehicles %d  deaths %d  settlements %d\n",
			st.People, st.Robots, st.Vehicles, st.Deaths, st.Settlements)
		if st.SaveInProgress {
			fmt.Println("save in progress")
		}
		return nil

	case "activities":
		if len(args) < 1 {
			return fmt.Errorf("usage: colonyctl activities <agent-id> [sol]")
		}
		id, err := parseAgentID(args[0])
		if err != nil {
			return err
		}
		if len(args) >= 2 {
			sol, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sol %q", args[1])
			}
			day, err := c.Activities(id, sol)
			if err != nil {
				return err
			}
			return console.WriteDay(os.Stdout, sol, day)
		}
		all, err := c.AllActivities(id)
		if err != nil {
			return err
		}
		return console.WriteReport(os.Stdout, all)

	case "save":
		dest := ""
		if len(args) > 0 {
			dest = args[0]
		}
		ev, err := c.Save(dest)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s (%s) at tick %d in %s\n", ev.Kind, ev.Destination,
			humanize.Bytes(uint64(ev.Bytes)), ev.Tick, ev.Duration.Round(time.Millisecond))
		return nil

	case "pause":
		return c.Pause()

	case "resume":
		return c.Resume()

	case "speed":
		if len(args) < 1 {
			return fmt.Errorf("usage: colonyctl speed <multiplier>")
		}
		s, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid speed %q", args[0])
		}
		return c.SetSpeed(s)

	case "interrupt":
		if len(args) < 1 {
			return fmt.Errorf("usage: colonyctl interrupt <agent-id> [reason]")
		}
		id, err := parseAgentID(args[0])
		if err != nil {
			return err
		}
		return c.Interrupt(id, strings.Join(args[1:], " "))

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseAgentID(s string) (agents.AgentID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid agent id %q", s)
	}
	return agents.AgentID(n), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: colonyctl status | activities <id> [sol] | save [name] | pause | resume | speed <x> | interrupt <id> [reason]")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
