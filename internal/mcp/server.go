// Package mcp exposes workflow operations as Model Context Protocol tools so
// agents can drive signing workflows.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"signflow/backend/internal/services"
	"signflow/backend/pkg/result"
)

type Server struct {
	mcpServer *server.MCPServer
	svc       *services.WorkflowService
}

func NewServer(svc *services.WorkflowService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Signflow",
			"1.0.0",
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		svc: svc,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_progress",
			mcp.WithDescription("Show a signing workflow's status and the state of every recipient"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleProgress,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Start a draft workflow and send the first signing invitations"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleStart,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_workflow",
			mcp.WithDescription("Cancel a workflow so no further signatures are accepted"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithString("reason", mcp.Description("Why the workflow is being cancelled")),
		),
		s.handleCancel,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"remind_workflow",
			mcp.WithDescription("Send a reminder to every recipient who still has to sign"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleRemind,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resend_envelope",
			mcp.WithDescription("Resend a recipient's envelope, typically after a failed delivery"),
			mcp.WithString("envelope_id", mcp.Required(), mcp.Description("The ID of the envelope")),
		),
		s.handleResend,
	)
}

func (s *Server) handleProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requiredString(request, "workflow_id")
	if errResult != nil {
		return errResult, nil
	}
	return toolResult(s.svc.GetWorkflowProgress(ctx, id)), nil
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requiredString(request, "workflow_id")
	if errResult != nil {
		return errResult, nil
	}
	return toolResult(s.svc.StartWorkflow(ctx, id)), nil
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requiredString(request, "workflow_id")
	if errResult != nil {
		return errResult, nil
	}
	args, _ := request.Params.Arguments.(map[string]interface{})
	reason, _ := args["reason"].(string)
	return toolResult(s.svc.CancelWorkflow(ctx, id, reason)), nil
}

func (s *Server) handleRemind(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requiredString(request, "workflow_id")
	if errResult != nil {
		return errResult, nil
	}
	return toolResult(s.svc.RemindWorkflow(ctx, id)), nil
}

func (s *Server) handleResend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requiredString(request, "envelope_id")
	if errResult != nil {
		return errResult, nil
	}
	return toolResult(s.svc.ResendEnvelope(ctx, id)), nil
}

func requiredString(request mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", mcp.NewToolResultError("Invalid arguments type")
	}
	value, ok := args[name].(string)
	if !ok || value == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return value, nil
}

// toolResult renders a service result. Error results are reported as tool
// errors so the agent sees the failure kind and message.
func toolResult[T any](res result.Result[T]) *mcp.CallToolResult {
	if res.IsError() {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", res.Kind, res.Message))
	}
	jsonBytes, err := json.Marshal(res)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(jsonBytes))
}

// MountHTTPHandlers serves the streamable HTTP transport at /mcp and the
// legacy SSE transport at /mcp/sse and /mcp/message.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))

	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
