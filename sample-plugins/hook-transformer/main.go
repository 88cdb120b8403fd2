package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	pb "github.com/mozilla-ai/mcpd-plugins-sdk-go/pkg/plugins/v1/plugins"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// textFields are the payload fields the transformer rewrites.
var textFields = []string{"data", "body"}

// hookRequest is the envelope the host sends in HTTPRequest.Body.
type hookRequest struct {
	HookType   string          `json:"hook_type"`
	PluginName string          `json:"plugin_name"`
	Payload    json.RawMessage `json:"payload"`
	Global     struct {
		RequestID string `json:"request_id"`
		User      string `json:"user"`
	} `json:"global_context"`
	State map[string]any `json:"state"`
}

// hookResponse is the envelope returned in HTTPResponse.Body.
type hookResponse struct {
	ContinueProcessing bool           `json:"continue_processing"`
	ModifiedPayload    map[string]any `json:"modified_payload,omitempty"`
	Violation          *violation     `json:"violation,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	State              map[string]any `json:"state,omitempty"`
}

type violation struct {
	Reason  string         `json:"reason"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

type hookTransformerPlugin struct {
	pb.UnimplementedPluginServer

	mu         sync.RWMutex
	operation  string
	redact     []string
	blockWords []string
	configured bool
}

func (p *hookTransformerPlugin) GetMetadata(_ context.Context, _ *emptypb.Empty) (*pb.Metadata, error) {
	return &pb.Metadata{
		Name:        "hook-transformer",
		Version:     "1.0.0",
		Description: "Rewrites the text of hook payloads and blocks denied words",
	}, nil
}

func (p *hookTransformerPlugin) GetCapabilities(_ context.Context, _ *emptypb.Empty) (*pb.Capabilities, error) {
	return &pb.Capabilities{
		Flows: []pb.Flow{pb.Flow_FLOW_REQUEST},
	}, nil
}

func (p *hookTransformerPlugin) CheckHealth(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

func (p *hookTransformerPlugin) CheckReady(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.configured {
		return nil, fmt.Errorf("hook-transformer not configured")
	}
	return &emptypb.Empty{}, nil
}

// Configure reads "operation" (uppercase or redact), "redact_words" and
// "block_words". Word lists are JSON arrays.
func (p *hookTransformerPlugin) Configure(_ context.Context, cfg *pb.PluginConfig) (*emptypb.Empty, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	custom := cfg.GetCustomConfig()

	p.operation = custom["operation"]
	if p.operation == "" {
		p.operation = "uppercase"
	}
	if p.operation != "uppercase" && p.operation != "redact" {
		return nil, fmt.Errorf("unknown operation %q", p.operation)
	}

	var err error
	if p.redact, err = wordList(custom["redact_words"]); err != nil {
		return nil, fmt.Errorf("redact_words: %w", err)
	}
	if p.blockWords, err = wordList(custom["block_words"]); err != nil {
		return nil, fmt.Errorf("block_words: %w", err)
	}

	p.configured = true
	log.Printf("Configured: operation=%s redact=%d block=%d", p.operation, len(p.redact), len(p.blockWords))

	return &emptypb.Empty{}, nil
}

func wordList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var words []string
	if err := json.Unmarshal([]byte(raw), &words); err != nil {
		return nil, err
	}
	return words, nil
}

func (p *hookTransformerPlugin) Stop(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

func (p *hookTransformerPlugin) HandleRequest(_ context.Context, req *pb.HTTPRequest) (*pb.HTTPResponse, error) {
	var in hookRequest
	if err := json.Unmarshal(req.GetBody(), &in); err != nil {
		return nil, fmt.Errorf("decoding hook request: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(in.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	state := in.State
	if state == nil {
		state = make(map[string]any)
	}
	count, _ := state["invocations"].(float64)
	state["invocations"] = count + 1

	out := p.transform(payload)
	out.State = state

	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	log.Printf("Handled %s for request %s: continue=%t", in.HookType, in.Global.RequestID, out.ContinueProcessing)

	return &pb.HTTPResponse{
		Continue: out.ContinueProcessing,
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     body,
	}, nil
}

func (p *hookTransformerPlugin) transform(payload map[string]any) hookResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()

	changed := 0
	for _, field := range textFields {
		text, ok := payload[field].(string)
		if !ok {
			continue
		}

		lower := strings.ToLower(text)
		for _, w := range p.blockWords {
			if strings.Contains(lower, strings.ToLower(w)) {
				return hookResponse{
					ContinueProcessing: false,
					Violation: &violation{
						Reason:  "denied word in payload",
						Code:    "DENIED_CONTENT",
						Details: map[string]any{"field": field, "word": w},
					},
				}
			}
		}

		rewritten := p.rewrite(text)
		if rewritten != text {
			payload[field] = rewritten
			changed++
		}
	}

	res := hookResponse{
		ContinueProcessing: true,
		Metadata:           map[string]any{"operation": p.operation, "fields_changed": changed},
	}
	if changed > 0 {
		res.ModifiedPayload = payload
	}

	return res
}

func (p *hookTransformerPlugin) rewrite(text string) string {
	switch p.operation {
	case "redact":
		for _, w := range p.redact {
			text = strings.ReplaceAll(text, w, strings.Repeat("*", len(w)))
		}
		return text
	default:
		return strings.ToUpper(text)
	}
}

func (p *hookTransformerPlugin) HandleResponse(_ context.Context, resp *pb.HTTPResponse) (*pb.HTTPResponse, error) {
	return resp, nil
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("")

	var (
		address = flag.String("address", "", "Address to listen on (e.g., /tmp/plugin.sock or localhost:50051)")
		network = flag.String("network", "unix", "Network type: 'unix' or 'tcp'")
	)
	flag.Parse()

	if *address == "" {
		log.Fatal("--address is required")
	}

	if *network == "unix" {
		_ = os.Remove(*address)
	}

	listener, err := net.Listen(*network, *address)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	grpcServer := grpc.NewServer()
	pb.RegisterPluginServer(grpcServer, &hookTransformerPlugin{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		grpcServer.GracefulStop()
		if *network == "unix" {
			_ = os.Remove(*address)
		}
	}()

	log.Printf("hook-transformer plugin listening on %s (%s)", *address, *network)
	if err := grpcServer.Serve(listener); err != nil {
		log.Fatalf("Failed to serve: %v", err)
	}
}
