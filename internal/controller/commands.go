package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sitedesk/sitedesk/internal/assets"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/hub"
	"github.com/sitedesk/sitedesk/internal/project"
	"github.com/sitedesk/sitedesk/internal/supervisor"
	"github.com/sitedesk/sitedesk/internal/transform"
)

// Command types accepted by Dispatch.
const (
	CmdStatus      = "status"
	CmdListAssets  = "list_assets"
	CmdInspect     = "inspect_asset"
	CmdTransform   = "transform"
	CmdStartServer = "start_server"
	CmdStopServer  = "stop_server"
)

// Command is one request from a client.
type Command struct {
	Type      string              `json:"type"`
	Name      string              `json:"name,omitempty"`
	Operation transform.Operation `json:"operation,omitempty"`
	Params    transform.Params    `json:"params,omitempty"`
	// KeepRatio derives a resize height from the asset on disk.
	KeepRatio bool            `json:"keep_ratio,omitempty"`
	Mode      supervisor.Mode `json:"mode,omitempty"`
}

// StatusReport is the answer to a status command.
type StatusReport struct {
	Project project.Layout    `json:"project" yaml:"project"`
	Server  supervisor.Status `json:"server" yaml:"server"`
	// Alive is the last probe result, nil before the first probe.
	Alive *bool `json:"alive,omitempty" yaml:"alive,omitempty"`
}

// Status reports the project and the server state.
func (c *Controller) Status() StatusReport {
	report := StatusReport{Project: c.layout, Server: c.sup.Status()}
	if alive, known := c.poller.Last(); known {
		report.Alive = &alive
	}
	return report
}

// Assets lists the asset filenames.
func (c *Controller) Assets() ([]string, error) {
	return c.store.List()
}

// Inspect reads the metadata of one asset.
func (c *Controller) Inspect(name string) (assets.Asset, error) {
	return c.store.Inspect(name)
}

// Transform applies one edit and publishes its result, failed or not.
func (c *Controller) Transform(ctx context.Context, req transform.Request, keepRatio bool) (transform.Result, error) {
	if keepRatio && req.Operation == transform.OpResize {
		h, err := c.engine.FitHeight(req.Source, req.Params.Width)
		if err != nil {
			return transform.Result{Operation: req.Operation, Source: req.Source, ErrorDetail: siteerrors.Describe(err)}, err
		}
		req.Params.Height = h
	}

	res, err := c.engine.Apply(ctx, req)
	c.publish(EventTransform, res)
	return res, err
}

// StartServer starts the site server. An empty mode uses the configured
// launch strategy.
func (c *Controller) StartServer(ctx context.Context, mode supervisor.Mode) error {
	if mode == supervisor.ModeNone {
		parsed, err := supervisor.ParseMode(c.cfg.Server.Launch)
		if err != nil {
			return err
		}
		mode = parsed
	}
	if err := c.sup.Start(ctx, mode); err != nil {
		return err
	}
	// A fast restart may look like no change to the poller.
	c.poller.Resync()
	return nil
}

// StopServer stops a managed server.
func (c *Controller) StopServer(ctx context.Context) error {
	return c.sup.Stop(ctx)
}

// Dispatch executes cmd and returns its answer.
func (c *Controller) Dispatch(ctx context.Context, cmd Command) (any, error) {
	switch strings.ToLower(cmd.Type) {
	case CmdStatus:
		return c.Status(), nil
	case CmdListAssets:
		return c.Assets()
	case CmdInspect:
		return c.Inspect(cmd.Name)
	case CmdTransform:
		return c.Transform(ctx, transform.Request{
			Source:    cmd.Name,
			Operation: cmd.Operation,
			Params:    cmd.Params,
		}, cmd.KeepRatio)
	case CmdStartServer:
		if err := c.StartServer(ctx, cmd.Mode); err != nil {
			return nil, err
		}
		return c.sup.Status(), nil
	case CmdStopServer:
		if err := c.StopServer(ctx); err != nil {
			return nil, err
		}
		return c.sup.Status(), nil
	default:
		return nil, siteerrors.NewUnsupportedError("UNKNOWN_COMMAND", fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

// HandleMessage adapts Dispatch to websocket commands, whose parameters
// arrive as raw JSON.
func (c *Controller) HandleMessage(ctx context.Context, msg hub.Command) (any, error) {
	var cmd Command
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &cmd); err != nil {
			return nil, siteerrors.NewUnsupportedError("COMMAND_PARAMS",
				fmt.Sprintf("malformed parameters for %s: %v", msg.Type, err))
		}
	}
	cmd.Type = msg.Type
	return c.Dispatch(ctx, cmd)
}
