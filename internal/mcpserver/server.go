// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes read-only parliament data tools for LLM integration via
// stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
	"github.com/KohoVolit/api.parldata.eu/internal/embed"
	"github.com/KohoVolit/api.parldata.eu/internal/entityservice"
)

const queryContractURI = "parldata://query-format"

// Server wraps the MCP server with the read tools.
type Server struct {
	mcp *server.MCPServer
	svc *entityservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *entityservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"parldata",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_resources",
		mcp.WithDescription("List the resources (collections) of the parliament database."),
	), s.listResources)

	s.mcp.AddTool(mcp.NewTool("describe_resource",
		mcp.WithDescription("Show the tracked fields, file fields, validation rules and relations of a resource as YAML."),
		mcp.WithString("resource", mcp.Required(), mcp.Description("Resource name (e.g. people)")),
	), s.describeResource)

	s.mcp.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Fetch one entity by id, optionally embedding related entities."),
		mcp.WithString("resource", mcp.Required(), mcp.Description("Resource name (e.g. people)")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithString("embed", mcp.Description(`JSON array of relation paths, e.g. ["memberships.organization"]`)),
	), s.getEntity)

	s.mcp.AddTool(mcp.NewTool("list_entities",
		mcp.WithDescription("List entities of a resource filtered by field equality. "+
			"Read the query contract via get_query_contract for the filter syntax."),
		mcp.WithString("resource", mcp.Required(), mcp.Description("Resource name (e.g. memberships)")),
		mcp.WithString("where", mcp.Description(`JSON object of field equalities, e.g. {"person_id":"p1"}`)),
		mcp.WithNumber("page", mcp.Description("Page number starting at 1")),
		mcp.WithNumber("max_results", mcp.Description("Page size")),
		mcp.WithString("embed", mcp.Description("JSON array of relation paths")),
	), s.listEntities)

	s.mcp.AddTool(mcp.NewTool("list_assets",
		mcp.WithDescription("List the files mirrored for an entity, with size and checksum."),
		mcp.WithString("resource", mcp.Required(), mcp.Description("Resource name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	), s.listAssets)

	s.mcp.AddTool(mcp.NewTool("get_query_contract",
		mcp.WithDescription("Returns the query conventions: filters, embedding, change history and mirrored files."),
	), s.getQueryContract)

	// Resource: query contract.
	s.mcp.AddResource(
		mcp.NewResource(queryContractURI, "Query Contract",
			mcp.WithResourceDescription("How to filter, embed and read change history."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readQueryContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %v", err))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listResources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(strings.Join(s.svc.Resources(), "\n")), nil
}

func (s *Server) describeResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Describe(name)
	if err != nil {
		return errorResult(err), nil
	}
	out, err := yaml.Marshal(res)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths, err := embed.ParsePaths(req.GetString("embed", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.Get(ctx, resource, id, paths)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(doc)
}

func (s *Server) listEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q := entityservice.ListQuery{
		Page:       req.GetInt("page", 1),
		MaxResults: req.GetInt("max_results", entityservice.DefaultMaxResults),
	}
	if where := req.GetString("where", ""); where != "" {
		if err := json.Unmarshal([]byte(where), &q.Where); err != nil {
			return mcp.NewToolResultError("where must be a JSON object"), nil
		}
	}
	if q.Embed, err = embed.ParsePaths(req.GetString("embed", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.List(ctx, resource, q)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) listAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	files, err := s.svc.Assets(ctx, resource, id)
	if err != nil {
		return errorResult(err), nil
	}
	if len(files) == 0 {
		return mcp.NewToolResultText("no assets found"), nil
	}
	return jsonResult(files)
}

func (s *Server) getQueryContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(QueryContract), nil
}

func (s *Server) readQueryContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      queryContractURI,
			MIMEType: "text/markdown",
			Text:     QueryContract,
		},
	}, nil
}
