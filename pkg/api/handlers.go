// Package api implements the Protocol Surface: JSON-over-HTTP routes plus
// the two WebSocket endpoints, wired onto the Job Manager, Event Bus,
// History Store, Discovery scanner, Tool Invoker and Chat Relay. Built on
// gin (gin.New() plus gin.Recovery(), c.JSON responses), with a Server
// type wiring a route group per component (testing/tooling/chatting) to
// one handler method per route, with a
// {detail: string} error envelope in place of free-form gin.H bodies.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/riverbend-labs/agentcheck/pkg/agentio"
	"github.com/riverbend-labs/agentcheck/pkg/chat"
	"github.com/riverbend-labs/agentcheck/pkg/events"
	"github.com/riverbend-labs/agentcheck/pkg/history"
	"github.com/riverbend-labs/agentcheck/pkg/jobs"
	"github.com/riverbend-labs/agentcheck/pkg/model"
	"github.com/riverbend-labs/agentcheck/pkg/tools"
)

// Discovery is the subset of pkg/discovery.Scanner the testing routes
// need: a snapshot of known tests for GET /testing/tests.
type Discovery interface {
	ListTests(ctx context.Context) (descriptors []model.TestDescriptor, errText string)
}

// AgentSummary describes one configured chat agent for
// GET /chatting/agents.
type AgentSummary struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

// Server wraps a gin.Engine wiring every Protocol Surface route onto the
// core components.
type Server struct {
	engine *gin.Engine

	discovery Discovery
	jobs      *jobs.Manager
	bus       *events.Bus
	history   *history.Store
	invoker   *tools.Invoker
	relay     *chat.Relay
	agents    []AgentSummary

	wsHub *WSHub
}

// NewServer builds a Server wiring every collaborator. agents is the
// static roster served by GET /chatting/agents (the agent factory
// itself is out of scope per spec §1 Non-goals — this just advertises
// which agentID/model pairs a client may request).
func NewServer(discovery Discovery, jobMgr *jobs.Manager, bus *events.Bus, hist *history.Store, invoker *tools.Invoker, relay *chat.Relay, agents []AgentSummary, allowedOrigins []string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		discovery: discovery,
		jobs:      jobMgr,
		bus:       bus,
		history:   hist,
		invoker:   invoker,
		relay:     relay,
		agents:    agents,
		wsHub:     NewWSHub(allowedOrigins),
	}
	s.registerRoutes()
	return s
}

// Engine returns the underlying gin.Engine for http.Server wiring.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	testing := s.engine.Group("/testing")
	{
		testing.GET("/tests", s.handleListTests)
		testing.GET("/runs", s.handleListRuns)
		testing.GET("/runs/:id", s.handleGetRun)
		testing.POST("/runs", s.handleCreateRun)
		testing.GET("/history", s.handleHistoryAll)
		testing.GET("/history/:qualifiedName", s.handleHistoryFor)
		testing.DELETE("/history", s.handleHistoryDeleteAll)
		testing.DELETE("/history/:qualifiedName", s.handleHistoryDeleteFor)
		testing.DELETE("/history/:qualifiedName/:index", s.handleHistoryDeleteAt)
		testing.GET("/ws/runs", s.handleRunsWS)
	}

	tooling := s.engine.Group("/tooling")
	{
		tooling.GET("/tools", s.handleListTools)
		tooling.GET("/tools/:name", s.handleToolSchema)
		tooling.POST("/tools/:name/invoke", s.handleToolInvoke)
	}

	chatting := s.engine.Group("/chatting")
	{
		chatting.GET("/agents", s.handleListAgents)
		chatting.GET("/agents/:id", s.handleGetAgent)
		chatting.POST("/conversations", s.handleCreateConversation)
		chatting.GET("/conversations", s.handleListConversations)
		chatting.GET("/conversations/:id", s.handleGetConversation)
		chatting.DELETE("/conversations/:id", s.handleDeleteConversation)
		chatting.POST("/conversations/:id/clear", s.handleClearConversation)
		chatting.GET("/ws/conversations/:id", s.handleConversationWS)
	}
}

// detail is the {detail: string} error envelope used for every non-2xx
// response.
func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

// handleHealth composes job-queue depth, active worker count, and
// discovery status into one response payload.
func (s *Server) handleHealth(c *gin.Context) {
	_, discoveryErr := s.discovery.ListTests(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"jobs":      s.jobs.Health(),
		"discovery": gin.H{"error": discoveryErr},
	})
}

func (s *Server) handleListTests(c *gin.Context) {
	descriptors, errText := s.discovery.ListTests(c.Request.Context())
	if errText != "" {
		slog.Warn("discovery reported errors", "error", errText)
	}
	if descriptors == nil {
		descriptors = []model.TestDescriptor{}
	}
	c.JSON(http.StatusOK, descriptors)
}

func (s *Server) handleListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, s.jobs.ListJobs())
}

func (s *Server) handleGetRun(c *gin.Context) {
	job, ok := s.jobs.GetJob(c.Param("id"))
	if !ok {
		detail(c, http.StatusNotFound, "job not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

// createRunRequest is the POST /testing/runs body: {tests?: [qualifiedName]}.
type createRunRequest struct {
	Tests []string `json:"tests"`
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			detail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	job, err := s.jobs.CreateJob(c.Request.Context(), req.Tests)
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleHistoryAll(c *gin.Context) {
	all, err := s.history.ListAll()
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) handleHistoryFor(c *gin.Context) {
	results, err := s.history.List(c.Param("qualifiedName"))
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []model.TestResult{}
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleHistoryDeleteAll(c *gin.Context) {
	if err := s.history.TruncateAll(); err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHistoryDeleteFor(c *gin.Context) {
	if err := s.history.Truncate(c.Param("qualifiedName")); err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHistoryDeleteAt(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		detail(c, http.StatusBadRequest, "invalid index")
		return
	}
	if err := s.history.DeleteAt(c.Param("qualifiedName"), idx); err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTools(c *gin.Context) {
	summaries, err := s.invoker.ListTools(c.Request.Context())
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if summaries == nil {
		summaries = []agentio.ToolSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

func (s *Server) handleToolSchema(c *gin.Context) {
	schema, err := s.invoker.Schema(c.Request.Context(), c.Param("name"))
	if err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, schema)
}

// invokeToolRequest is the POST /tooling/tools/{name}/invoke body.
type invokeToolRequest struct {
	Args  map[string]any `json:"args"`
	Input string         `json:"input"`
}

// handleToolInvoke always returns HTTP 200 — tool-level failure is
// reported inside the body per §6 ("HTTP status is 200 even on
// tool-level failure; transport errors return 5xx").
func (s *Server) handleToolInvoke(c *gin.Context) {
	var req invokeToolRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			detail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	result := s.invoker.Invoke(c.Request.Context(), c.Param("name"), req.Args, req.Input)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.agents)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	id := c.Param("id")
	for _, a := range s.agents {
		if a.ID == id {
			c.JSON(http.StatusOK, a)
			return
		}
	}
	detail(c, http.StatusNotFound, "agent not found")
}

// createConversationRequest is the POST /chatting/conversations body.
type createConversationRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Model   string `json:"model" binding:"required"`
	Title   string `json:"title"`
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, err.Error())
		return
	}
	conv := s.relay.CreateConversation(req.AgentID, req.Model, req.Title)
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleListConversations(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.ListConversations())
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, err := s.relay.GetConversation(c.Param("id"))
	if err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	if err := s.relay.DeleteConversation(c.Param("id")); err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleClearConversation(c *gin.Context) {
	if err := s.relay.ClearConversation(c.Param("id")); err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	conv, err := s.relay.GetConversation(c.Param("id"))
	if err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, conv)
}
