// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/sift"
	"github.com/poiesic/sift/ai"
	"github.com/poiesic/sift/ai/mock"
	"github.com/poiesic/sift/core"
	"github.com/poiesic/sift/search"
)

func main() {
	app := &cli.App{
		Name:  "sift",
		Usage: "Permission-aware retrieval engine over synced documents and email",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Apply a connector sync file (users, groups, grants, chunks)",
				Action: syncCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to sync file (JSON)",
						Required: true,
					},
					mockAIFlag(),
					hostFlag(),
					embeddingModelFlag(),
				},
			},
			{
				Name:   "recompute",
				Usage:  "Force ACL recomputation for a resource",
				Action: recomputeCommand,
				Flags: []cli.Flag{
					dbFlag(),
					tenantFlag(),
					&cli.StringFlag{
						Name:     "resource",
						Aliases:  []string{"r"},
						Usage:    "Resource ID",
						Required: true,
					},
					resourceTypeFlag(),
					mockAIFlag(),
					hostFlag(),
					embeddingModelFlag(),
				},
			},
			{
				Name:   "check",
				Usage:  "Check whether a principal may read a resource",
				Action: checkCommand,
				Flags: []cli.Flag{
					dbFlag(),
					tenantFlag(),
					principalFlag(),
					providerFlag(),
					&cli.StringFlag{
						Name:     "resource",
						Aliases:  []string{"r"},
						Usage:    "Resource ID",
						Required: true,
					},
					resourceTypeFlag(),
					mockAIFlag(),
					hostFlag(),
					embeddingModelFlag(),
				},
			},
			{
				Name:   "search",
				Usage:  "Run a permission-filtered hybrid search",
				Action: searchCommand,
				Flags: []cli.Flag{
					dbFlag(),
					tenantFlag(),
					principalFlag(),
					providerFlag(),
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Maximum number of results",
						Value:   10,
					},
					mockAIFlag(),
					hostFlag(),
					embeddingModelFlag(),
				},
			},
			{
				Name:   "ask",
				Usage:  "Answer a question from permitted sources, with citations",
				Action: askCommand,
				Flags: []cli.Flag{
					dbFlag(),
					tenantFlag(),
					principalFlag(),
					providerFlag(),
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Maximum number of retrieved chunks",
						Value:   10,
					},
					&cli.IntFlag{
						Name:  "budget",
						Usage: "Context token budget",
						Value: 2000,
					},
					mockAIFlag(),
					hostFlag(),
					embeddingModelFlag(),
					&cli.StringFlag{
						Name:  "generator-model",
						Usage: "Generation model name",
						Value: "qwen2.5:3b",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// syncFile is the wire format connectors hand to the sync command.
// Every section is optional; grants replace the resource's grant list
// wholesale.
type syncFile struct {
	TenantID string `json:"tenantId"`
	Users    []struct {
		Email      string `json:"email"`
		Provider   string `json:"provider"`
		ExternalID string `json:"externalId"`
	} `json:"users"`
	Groups []struct {
		Provider string `json:"provider"`
		GroupID  string `json:"groupId"`
		Members  []struct {
			PrincipalID string `json:"principalId"`
			Type        string `json:"type"`
		} `json:"members"`
	} `json:"groups"`
	Resources []struct {
		ResourceID string `json:"resourceId"`
		Type       string `json:"type"`
		Grants     []struct {
			PrincipalID string     `json:"principalId"`
			Type        string     `json:"type"`
			Provider    string     `json:"provider"`
			ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
		} `json:"grants"`
		Chunks []struct {
			Content string    `json:"content"`
			Source  string    `json:"source"`
			Section string    `json:"section"`
			Page    int       `json:"page"`
			Date    time.Time `json:"date"`
		} `json:"chunks"`
	} `json:"resources"`
}

func syncCommand(c *cli.Context) error {
	ctx := context.Background()

	raw, err := os.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("reading sync file: %w", err)
	}
	var file syncFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing sync file: %w", err)
	}
	if file.TenantID == "" {
		return fmt.Errorf("sync file missing tenantId")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	// Users and identity links come first so grant resolution can find
	// them.
	for _, u := range file.Users {
		userID := core.IDFromContent(file.TenantID + "\x00" + strings.ToLower(u.Email))
		user := &core.User{ID: userID, TenantID: file.TenantID, Email: strings.ToLower(u.Email)}
		if err := engine.IdentityRepository().PutUser(ctx, user); err != nil {
			return fmt.Errorf("storing user %q: %w", u.Email, err)
		}
		if u.ExternalID != "" {
			link := &core.IdentityLink{
				TenantID:   file.TenantID,
				Provider:   u.Provider,
				ExternalID: u.ExternalID,
				UserID:     userID,
				Verified:   true,
			}
			if err := engine.IdentityRepository().PutLink(ctx, link); err != nil {
				return fmt.Errorf("storing identity link %q: %w", u.ExternalID, err)
			}
		}
	}

	for _, g := range file.Groups {
		record := &core.GroupRecord{
			TenantID:        file.TenantID,
			Provider:        g.Provider,
			ExternalGroupID: g.GroupID,
			LastSyncedAt:    time.Now().UTC(),
		}
		for _, m := range g.Members {
			pt, err := principalTypeFromString(m.Type)
			if err != nil {
				return fmt.Errorf("group %q member %q: %w", g.GroupID, m.PrincipalID, err)
			}
			record.DirectMembers = append(record.DirectMembers, core.GroupMember{
				ExternalID:    m.PrincipalID,
				PrincipalType: pt,
			})
		}
		if err := engine.ACL().ApplyGroup(ctx, record); err != nil {
			return fmt.Errorf("applying group %q: %w", g.GroupID, err)
		}
	}

	for _, r := range file.Resources {
		rt, err := resourceTypeFromString(r.Type)
		if err != nil {
			return fmt.Errorf("resource %q: %w", r.ResourceID, err)
		}

		if len(r.Chunks) > 0 {
			if err := engine.ChunkRepository().DeleteChunksByResource(ctx, file.TenantID, r.ResourceID, rt); err != nil {
				return fmt.Errorf("clearing chunks for %q: %w", r.ResourceID, err)
			}
			chunks := make([]*core.Chunk, 0, len(r.Chunks))
			for _, ch := range r.Chunks {
				vector, err := engine.Provider().Embedder().EmbedText(ctx, ch.Content)
				if err != nil {
					return fmt.Errorf("embedding chunk for %q: %w", r.ResourceID, err)
				}
				chunks = append(chunks, &core.Chunk{
					TenantID:     file.TenantID,
					ResourceID:   r.ResourceID,
					ResourceType: rt,
					Content:      ch.Content,
					Vector:       vector,
					Location:     core.ChunkLocation{Source: ch.Source, Section: ch.Section, Page: ch.Page},
					Timestamp:    ch.Date,
				})
			}
			if _, err := engine.ChunkRepository().AddChunks(ctx, chunks...); err != nil {
				return fmt.Errorf("storing chunks for %q: %w", r.ResourceID, err)
			}
		}

		grants := make([]*core.GrantEntry, 0, len(r.Grants))
		for _, g := range r.Grants {
			pt, err := principalTypeFromString(g.Type)
			if err != nil {
				return fmt.Errorf("resource %q grant %q: %w", r.ResourceID, g.PrincipalID, err)
			}
			entry := &core.GrantEntry{
				TenantID:      file.TenantID,
				ResourceID:    r.ResourceID,
				ResourceType:  rt,
				PrincipalID:   g.PrincipalID,
				PrincipalType: pt,
				Provider:      g.Provider,
				Permission:    core.PermissionRead,
			}
			if g.ExpiresAt != nil {
				entry.ExpiresAt = *g.ExpiresAt
			}
			grants = append(grants, entry)
		}
		if err := engine.ACL().ApplyGrants(ctx, file.TenantID, r.ResourceID, rt, grants); err != nil {
			return fmt.Errorf("applying grants for %q: %w", r.ResourceID, err)
		}
		fmt.Fprintf(os.Stderr, "synced %s (%d chunks, %d grants)\n", r.ResourceID, len(r.Chunks), len(r.Grants))
	}

	// Background recomputation runs on the engine's pool; give an
	// explicit pass here so the CLI exits with warm ACLs.
	for _, r := range file.Resources {
		rt, _ := resourceTypeFromString(r.Type)
		if err := engine.ACL().Recompute(ctx, file.TenantID, r.ResourceID, rt); err != nil {
			fmt.Fprintf(os.Stderr, "warning: recompute of %s failed: %v\n", r.ResourceID, err)
		}
	}

	return nil
}

func recomputeCommand(c *cli.Context) error {
	ctx := context.Background()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	rt, err := resourceTypeFromString(c.String("type"))
	if err != nil {
		return err
	}
	if err := engine.ACL().Recompute(ctx, c.String("tenant"), c.String("resource"), rt); err != nil {
		return fmt.Errorf("recompute failed: %w", err)
	}
	fmt.Println("ok")
	return nil
}

func checkCommand(c *cli.Context) error {
	ctx := context.Background()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	userID, err := engine.Resolver().Resolve(ctx, c.String("tenant"), c.String("provider"), c.String("principal"))
	if err != nil {
		return fmt.Errorf("resolving principal: %w", err)
	}
	rt, err := resourceTypeFromString(c.String("type"))
	if err != nil {
		return err
	}

	if engine.ACL().IsAllowed(ctx, c.String("tenant"), userID, c.String("resource"), rt) {
		fmt.Println("allowed")
	} else {
		fmt.Println("denied")
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	ctx := context.Background()

	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return fmt.Errorf("query text is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	userID, err := engine.Resolver().Resolve(ctx, c.String("tenant"), c.String("provider"), c.String("principal"))
	if err != nil {
		return fmt.Errorf("resolving principal: %w", err)
	}

	hits, err := engine.Retriever().Retrieve(ctx, c.String("tenant"), userID, query, c.Int("top-k"), search.Filters{})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(hits) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, hit := range hits {
		fmt.Printf("%2d. [%s] %s (score %.4f)\n", i+1, hit.ResourceID, firstLine(hit.Content), hit.FusedScore)
	}
	return nil
}

func askCommand(c *cli.Context) error {
	ctx := context.Background()

	question := strings.Join(c.Args().Slice(), " ")
	if question == "" {
		return fmt.Errorf("question text is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	userID, err := engine.Resolver().Resolve(ctx, c.String("tenant"), c.String("provider"), c.String("principal"))
	if err != nil {
		return fmt.Errorf("resolving principal: %w", err)
	}

	hits, err := engine.Retriever().Retrieve(ctx, c.String("tenant"), userID, question, c.Int("top-k"), search.Filters{})
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	if len(hits) == 0 {
		fmt.Println("No permitted sources matched the question.")
		return nil
	}

	builder, err := engine.NewBuilder()
	if err != nil {
		return err
	}
	contextSet, err := builder.BuildContext(hits, c.Int("budget"))
	if err != nil {
		return err
	}

	prompt := builder.RenderPrompt(question, contextSet)
	answer, err := engine.Provider().Generator().Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	citations := builder.ExtractCitations(answer, contextSet.Chunks)
	citations = builder.VerifyCitations(answer, citations, contextSet.Chunks)

	fmt.Println(answer)
	if len(citations) > 0 {
		fmt.Println("\nSources:")
		for _, cit := range citations {
			marker := ""
			if cit.WeakSupport {
				marker = " (weak support)"
			}
			fmt.Printf("  [%d] %s — %s%s\n", cit.Index, cit.ResourceID, cit.Snippet, marker)
		}
	}
	return nil
}

func openEngine(c *cli.Context) (*sift.Engine, error) {
	opts := []sift.EngineOption{}
	if c.Bool("mock-ai") {
		opts = append(opts, sift.WithProvider(mock.NewMockProvider()))
	} else {
		cfgOpts := []ai.ConfigOption{
			ai.WithHost(c.String("host")),
			ai.WithEmbeddingModel(c.String("embedding-model")),
		}
		// Only the ask command carries this flag.
		if model := c.String("generator-model"); model != "" {
			cfgOpts = append(cfgOpts, ai.WithGeneratorModel(model))
		}
		opts = append(opts, sift.WithAIConfig(ai.NewConfig(cfgOpts...)))
	}
	engine, err := sift.NewEngine(c.String("db"), opts...)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return engine, nil
}

func resourceTypeFromString(value string) (core.ResourceType, error) {
	switch strings.ToLower(value) {
	case "document", "doc":
		return core.ResourceTypeDocument, nil
	case "email", "mail":
		return core.ResourceTypeEmail, nil
	default:
		return 0, fmt.Errorf("unknown resource type %q: must be document or email", value)
	}
}

func principalTypeFromString(value string) (core.PrincipalType, error) {
	switch strings.ToLower(value) {
	case "user":
		return core.PrincipalTypeUser, nil
	case "group":
		return core.PrincipalTypeGroup, nil
	default:
		return 0, fmt.Errorf("unknown principal type %q: must be user or group", value)
	}
}

func firstLine(content string) string {
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:100] + "..."
	}
	return content
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "db",
		Aliases:  []string{"d"},
		Usage:    "Path to BadgerDB database directory",
		Required: true,
	}
}

func tenantFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "tenant",
		Aliases:  []string{"t"},
		Usage:    "Tenant ID",
		Required: true,
	}
}

func principalFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "principal",
		Aliases:  []string{"p"},
		Usage:    "External principal ID or email of the querying user",
		Required: true,
	}
}

func providerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "provider",
		Usage: "Identity provider the principal ID belongs to",
		Value: "local",
	}
}

func resourceTypeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "type",
		Usage: "Resource type (document, email)",
		Value: "document",
	}
}

func mockAIFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "mock-ai",
		Usage: "Use deterministic in-process AI services instead of an HTTP provider",
	}
}

func hostFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "host",
		Usage: "OpenAI-compatible service host URL",
		Value: "http://localhost:11434/v1",
	}
}

func embeddingModelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "embedding-model",
		Usage: "Embedding model name",
		Value: "embeddinggemma",
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
