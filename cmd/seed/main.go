package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/alphabot-ai/scribe/internal/client"
)

const seedPassword = "seed-password-123"

var authors = []string{
	"ada@example.com",
	"grace@example.com",
	"linus@example.com",
	"ken@example.com",
	"barbara@example.com",
}

var posts = []struct {
	title     string
	content   string
	autoReply bool
}{
	{"Why I stopped writing getters", "Exported fields are fine when the type has no invariants to protect.", true},
	{"Context cancellation in practice", "Every blocking call should take a context. Here is how we retrofitted ours.", true},
	{"A week with structured logging", "Switching to JSON logs made our incident reviews far shorter.", false},
	{"Notes on circuit breakers", "Open fast, probe slowly, and never count cancellation as a failure.", true},
	{"Postgres or SQLite for side projects?", "SQLite until you need concurrent writers. Then Postgres.", false},
	{"Testing HTTP handlers without mocks", "httptest plus an in-memory store covers most of what we need.", true},
	{"Small interfaces", "Define the interface where it is consumed, with only the methods you call.", false},
	{"Rate limiting per client", "Token buckets keyed by IP are simple and good enough for a blog.", true},
}

var comments = []string{
	"Great post! This matches what we saw in production.",
	"I disagree with the premise, but the code samples are clear.",
	"Has anyone benchmarked this? I'd love to see numbers.",
	"Interesting take. I wonder how this scales.",
	"Can you share more details about the implementation?",
	"Would love to see a follow-up post on this topic.",
	"The code looks clean. Nice work!",
	"Not sure I agree, but I appreciate the perspective.",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Scribe server URL")
	flag.Parse()

	log.Printf("Seeding %s...\n", *baseURL)

	var clients []*client.Client
	for _, email := range authors {
		c := client.New(*baseURL)
		if err := c.RegisterAndLogin(email, seedPassword); err != nil {
			log.Fatalf("register %s: %v", email, err)
		}
		log.Printf("✓ Registered %s", email)
		clients = append(clients, c)
	}

	type seeded struct {
		id     int64
		author int
	}
	var postIDs []seeded
	for _, p := range posts {
		idx := rand.Intn(len(clients))
		delay := rand.Intn(30)
		post, err := clients[idx].CreatePost(client.NewPost{
			Title:            p.title,
			Content:          p.content,
			AutoReplyEnabled: p.autoReply,
			AutoReplyDelay:   &delay,
		})
		if err != nil {
			log.Printf("✗ Failed to post: %v", err)
			continue
		}
		postIDs = append(postIDs, seeded{id: post.ID, author: idx})
		log.Printf("✓ Posted #%d: %s (by %s)", post.ID, p.title, authors[idx])

		// spread out created_at times
		time.Sleep(50 * time.Millisecond)
	}

	var scheduled, blocked int
	for _, p := range postIDs {
		n := rand.Intn(3) + 1
		for i := 0; i < n; i++ {
			idx := rand.Intn(len(clients))
			if idx == p.author {
				idx = (idx + 1) % len(clients)
			}
			comment, err := clients[idx].CreateComment(p.id, comments[rand.Intn(len(comments))])
			var be *client.BlockedError
			if errors.As(err, &be) {
				blocked++
				continue
			}
			if err != nil {
				log.Printf("✗ Failed to comment: %v", err)
				continue
			}
			if comment.AutoReplyJob != "" {
				scheduled++
			}
			log.Printf("✓ Comment #%d on post #%d (by %s)", comment.ID, p.id, authors[idx])
		}
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Printf("Authors:      %d\n", len(authors))
	fmt.Printf("Posts:        %d\n", len(postIDs))
	fmt.Printf("Auto-replies: %d scheduled\n", scheduled)
	if blocked > 0 {
		fmt.Printf("Blocked:      %d comments\n", blocked)
	}
	fmt.Println("\nRead them with: scribe read --url", *baseURL)
}
