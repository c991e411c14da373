package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/InsulaLabs/fleet/models"
)

var errUsage = errors.New("usage")

func (c *cli) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "node":
		if len(args) < 1 {
			return errUsage
		}
		return c.handleNode(ctx, args[0], args[1:])
	case "file":
		if len(args) < 1 {
			return errUsage
		}
		return c.handleFile(ctx, args[0], args[1:])
	case "ping":
		return c.handlePing(ctx)
	default:
		return errUsage
	}
}

func (c *cli) handleNode(ctx context.Context, sub string, args []string) error {
	switch sub {
	case "update":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		capacity, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("capacity '%s' is not a number", args[1])
		}
		update := models.NodeUpdate{NodeID: args[0], RemainingCapacity: &capacity}
		if len(args) == 3 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("load must be valid JSON")
			}
			update.ProcessingLoad = json.RawMessage(args[2])
		}
		if err := c.fleet.UpdateNode(ctx, update); err != nil {
			return err
		}
		c.ok("Node %s updated", args[0])
		return nil

	case "list":
		nodes, err := c.fleet.ListNodes(ctx)
		if err != nil {
			return err
		}
		if c.asJSON {
			if nodes == nil {
				nodes = []models.NodeRecord{}
			}
			return c.printJSON(nodes)
		}
		if len(nodes) == 0 {
			fmt.Fprintln(c.stdout, color.YellowString("No nodes reported"))
			return nil
		}
		for _, n := range nodes {
			c.printNode(n)
		}
		return nil

	case "get":
		if len(args) != 1 {
			return errUsage
		}
		node, err := c.fleet.GetNode(ctx, args[0])
		if err != nil {
			return err
		}
		if c.asJSON {
			return c.printJSON(node)
		}
		c.printNode(node)
		return nil

	case "rm":
		if len(args) != 1 {
			return errUsage
		}
		if err := c.fleet.RemoveNode(ctx, args[0]); err != nil {
			return err
		}
		c.ok("Node %s removed", args[0])
		return nil
	}
	return errUsage
}

func (c *cli) handleFile(ctx context.Context, sub string, args []string) error {
	switch sub {
	case "status":
		if len(args) > 1 {
			return errUsage
		}
		if len(args) == 0 {
			records, err := c.fleet.AllFileStatuses(ctx)
			if err != nil {
				return err
			}
			if c.asJSON {
				if records == nil {
					records = []models.FileRecord{}
				}
				return c.printJSON(records)
			}
			if len(records) == 0 {
				fmt.Fprintln(c.stdout, color.YellowString("No files tracked"))
			}
			for _, r := range records {
				c.printFile(r)
			}
			return nil
		}
		record, err := c.fleet.FileStatus(ctx, args[0])
		if err != nil {
			return err
		}
		if c.asJSON {
			return c.printJSON(record)
		}
		c.printFile(record)
		return nil

	case "assign":
		if len(args) != 2 {
			return errUsage
		}
		rsp, err := c.fleet.AssignNode(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return c.printOp(rsp)

	case "complete":
		if len(args) < 1 || len(args) > 2 {
			return errUsage
		}
		nodeID := ""
		if len(args) == 2 {
			nodeID = args[1]
		}
		rsp, err := c.fleet.CompleteReplica(ctx, args[0], nodeID)
		if err != nil {
			return err
		}
		return c.printOp(rsp)

	case "lock", "unlock":
		if len(args) != 1 {
			return errUsage
		}
		lock := c.fleet.Lock
		if sub == "unlock" {
			lock = c.fleet.Unlock
		}
		rsp, err := lock(ctx, args[0])
		if err != nil {
			return err
		}
		return c.printOp(rsp)

	case "rm":
		if len(args) != 1 {
			return errUsage
		}
		if err := c.fleet.DeleteFile(ctx, args[0]); err != nil {
			return err
		}
		c.ok("File %s deleted", args[0])
		return nil
	}
	return errUsage
}

func (c *cli) handlePing(ctx context.Context) error {
	ping, err := c.fleet.Ping(ctx)
	if err != nil {
		return err
	}
	if c.asJSON {
		return c.printJSON(ping)
	}
	fmt.Fprintf(c.stdout, "%s %s up %s, %d file shards\n",
		color.GreenString("PONG"),
		color.CyanString(ping.InstanceID),
		ping.Uptime.Round(time.Second),
		ping.FileShards)
	return nil
}

func (c *cli) ok(format string, args ...any) {
	if c.asJSON {
		c.printJSON(map[string]string{"status": "ok", "message": fmt.Sprintf(format, args...)})
		return
	}
	fmt.Fprintf(c.stdout, "%s %s\n", color.GreenString("OK"), fmt.Sprintf(format, args...))
}

func (c *cli) printOp(rsp models.OpResponse) error {
	if c.asJSON {
		return c.printJSON(rsp)
	}
	line := fmt.Sprintf("%s %s", color.GreenString(string(rsp.Outcome)), rsp.Message)
	if rsp.LockCount != nil {
		line += fmt.Sprintf(" (lock count %d)", *rsp.LockCount)
	}
	fmt.Fprintln(c.stdout, line)
	return nil
}

func (c *cli) printNode(n models.NodeRecord) {
	load := "-"
	if len(n.ProcessingLoad) > 0 {
		load = string(n.ProcessingLoad)
	}
	fmt.Fprintf(c.stdout, "%s  capacity=%s  load=%s  reported=%s\n",
		color.CyanString("%-20s", n.NodeID),
		color.HiWhiteString("%.2f", n.RemainingCapacity),
		load,
		n.LastReportedAt.Format("2006-01-02T15:04:05Z07:00"))
}

func (c *cli) printFile(r models.FileRecord) {
	state := color.YellowString("pending")
	if r.IsComplete() {
		state = color.GreenString("complete")
	}
	locked := ""
	if r.IsLocked() {
		locked = color.RedString(" locked(%d)", r.LockCount)
	}
	fmt.Fprintf(c.stdout, "%s  %s  replicas=%d/%d  nodes=%v%s\n",
		color.CyanString("%-30s", r.FileID),
		state,
		r.CompletedReplicas,
		r.RequiredReplicas,
		r.AssignedNodes,
		locked)
}
