// Package mcp exposes the persona server over MCP stdio, delegating each tool
// call to the HTTP API.
package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const protocolVersion = "2024-11-05"

// Server implements an MCP stdio server that delegates to the persona HTTP
// server. Each tool call is scoped to an explicit user ID.
type Server struct {
	serverURL string
	authToken string
	client    *http.Client
}

func NewServer(serverURL, authToken string) *Server {
	return &Server{
		serverURL: strings.TrimRight(serverURL, "/"),
		authToken: authToken,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Run starts the stdio event loop. Blocks until stdin is closed.
func (s *Server) Run() error {
	scanner := bufio.NewScanner(os.Stdin)
	// Increase buffer for large messages
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(nil, -32700, "parse error: "+err.Error())
			continue
		}

		resp := s.handleRequest(&req)
		if resp != nil {
			s.writeResponse(resp)
		}
	}

	return scanner.Err()
}

func (s *Server) handleRequest(req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized":
		// Notification — no response
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(req)
	case "ping":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]string{}}
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "method not found: " + req.Method},
		}
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: ServerCapabilities{
				Tools: &ToolCapabilities{},
			},
			ServerInfo: ServerInfo{
				Name:    "persona-memory",
				Version: "1.0.0",
			},
		},
	}
}

func (s *Server) handleToolsList(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  ToolsListResult{Tools: ToolDefinitions()},
	}
}

func (s *Server) handleToolsCall(req *Request) *Response {
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return s.errorResponse(req.ID, -32602, "invalid params")
	}

	var params CallToolParams
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "invalid params: "+err.Error())
	}

	result, isError := s.dispatchTool(params.Name, params.Arguments)

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

func (s *Server) dispatchTool(name string, args map[string]any) (string, bool) {
	switch name {
	case "memory_ingest":
		return s.toolIngest(args)
	case "memory_context":
		return s.toolContext(args)
	case "memory_notes":
		return s.toolNotes(args)
	case "memory_note_status":
		return s.toolNoteStatus(args)
	case "memory_chain":
		return s.toolChain(args)
	default:
		return fmt.Sprintf("unknown tool: %s", name), true
	}
}

// --- Tool implementations (HTTP delegation) ---

func (s *Server) toolIngest(args map[string]any) (string, bool) {
	userID, _ := args["userId"].(string)
	body := map[string]any{
		"text": args["text"],
		"meta": map[string]any{
			"sessionId": getString(args, "sessionId", ""),
			"source":    "mcp",
		},
	}
	return s.httpDo("POST", fmt.Sprintf("/users/%s/ingest", url.PathEscape(userID)), body)
}

func (s *Server) toolContext(args map[string]any) (string, bool) {
	userID, _ := args["userId"].(string)
	body := map[string]any{
		"query":    args["query"],
		"topK":     int(getFloat(args, "topK", 10)),
		"timezone": getString(args, "timezone", ""),
	}
	return s.httpDo("POST", fmt.Sprintf("/users/%s/context", url.PathEscape(userID)), body)
}

func (s *Server) toolNotes(args map[string]any) (string, bool) {
	userID, _ := args["userId"].(string)
	path := fmt.Sprintf("/users/%s/notes", url.PathEscape(userID))
	if status := getString(args, "status", ""); status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	return s.httpDo("GET", path, nil)
}

func (s *Server) toolNoteStatus(args map[string]any) (string, bool) {
	noteID, _ := args["noteId"].(string)
	body := map[string]any{
		"status": args["status"],
	}
	return s.httpDo("PATCH", fmt.Sprintf("/notes/%s/status", url.PathEscape(noteID)), body)
}

func (s *Server) toolChain(args map[string]any) (string, bool) {
	userID, _ := args["userId"].(string)
	return s.httpDo("GET", fmt.Sprintf("/users/%s/chain", url.PathEscape(userID)), nil)
}

// --- HTTP helpers ---

func (s *Server) httpDo(method, path string, body any) (string, bool) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Sprintf("marshal error: %s", err), true
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, s.serverURL+path, reader)
	if err != nil {
		return fmt.Sprintf("request error: %s", err), true
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("HTTP error: %s", err), true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("read error: %s", err), true
	}

	if resp.StatusCode >= 400 {
		return string(respBody), true
	}

	return string(respBody), false
}

// --- Response helpers ---

func (s *Server) writeResponse(resp *Response) {
	data, _ := json.Marshal(resp)
	fmt.Fprintf(os.Stdout, "%s\n", data)
}

func (s *Server) writeError(id any, code int, message string) {
	resp := &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
	s.writeResponse(resp)
}

func (s *Server) errorResponse(id any, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// --- Argument helpers ---

func getFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key]; ok {
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		}
	}
	return fallback
}

func getString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
