// Command chatprobe drives one widget session against a chat backend from the
// terminal: open, answer the consent prompt, ask questions and optionally flag
// the last reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/podc/assistant-widget/internal/config"
	widgetmodel "github.com/podc/assistant-widget/internal/model/widget"
	"github.com/podc/assistant-widget/internal/render"
	"github.com/podc/assistant-widget/internal/service/backend"
	"github.com/podc/assistant-widget/internal/service/widget"
)

type questions []string

func (q *questions) String() string     { return strings.Join(*q, " | ") }
func (q *questions) Set(v string) error { *q = append(*q, v); return nil }

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env loaded, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var asks questions
	backendURL := flag.String("backend", cfg.Widget.Embed.BackendURL, "chat backend base URL")
	decline := flag.Bool("decline", false, "decline the consent prompt instead of accepting it")
	flagLast := flag.Bool("flag", false, "flag the last bot reply")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall time limit")
	flag.Var(&asks, "ask", "question to send (repeatable)")
	flag.Parse()

	if len(asks) == 0 && flag.NArg() > 0 {
		asks = append(asks, strings.Join(flag.Args(), " "))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := backend.New(*backendURL, nil)
	svc := widget.NewService(cfg.Widget.Embed, widget.Deps{
		Chat:     client,
		Flags:    client,
		Renderer: render.NewMarkdown(),
	}, 0)

	session, err := svc.Mount(ctx)
	if err != nil {
		log.Fatalf("mount failed: %v", err)
	}
	log.Printf("probing %s session=%s", client.BaseURL(), session.ID())

	session.ToggleOpen()
	decision := widgetmodel.Accept
	if *decline {
		decision = widgetmodel.Decline
	}
	if err := session.RespondToConsent(decision); err != nil {
		log.Fatalf("consent failed: %v", err)
	}

	var lastReply widgetmodel.Message
	for _, ask := range asks {
		started := time.Now()
		reply, err := session.SendMessage(ctx, ask)
		if err != nil {
			log.Printf("send %q rejected: %v", ask, err)
			continue
		}
		lastReply = reply
		log.Printf("reply received in %s", time.Since(started).Round(time.Millisecond))
	}

	printTranscript(session.Snapshot())

	if *flagLast {
		if lastReply.ID == "" {
			log.Fatal("nothing to flag: no reply received")
		}
		notice, err := session.Flag(ctx, lastReply.ID)
		if err != nil {
			log.Printf("flag failed: %v", err)
		}
		fmt.Println(notice)
		if err != nil {
			os.Exit(1)
		}
	}
}

func printTranscript(snap widgetmodel.Snapshot) {
	for _, msg := range snap.Messages {
		fmt.Printf("[%s] %s\n", msg.Sender, msg.Text)
		for _, src := range msg.Sources {
			if src.Linked() {
				fmt.Printf("    Source: %s <%s>\n", src.Label, src.URL)
			} else {
				fmt.Printf("    Source: %s\n", src.Label)
			}
		}
	}
}
