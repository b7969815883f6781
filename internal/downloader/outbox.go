package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// OutboxDeliverer implements Deliverer by copying artifacts into a per-token
// outbox directory the transport layer serves to the user. Links and notices
// are written as small text files next to the artifacts so a poll of the
// outbox sees the full conversation.
type OutboxDeliverer struct {
	root string
	log  *slog.Logger
}

// NewOutboxDeliverer returns a deliverer rooted at dir, creating it if
// needed.
func NewOutboxDeliverer(dir string, log *slog.Logger) (*OutboxDeliverer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create outbox root: %w", err)
	}
	return &OutboxDeliverer{root: dir, log: log}, nil
}

// Root returns the outbox root directory.
func (d *OutboxDeliverer) Root() string { return d.root }

// DeliverFile implements Deliverer.DeliverFile. The source file is copied,
// not moved, so the caller keeps ownership of its temporary artifact.
func (d *OutboxDeliverer) DeliverFile(ctx context.Context, token Token, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(d.root, string(token))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := copyFile(path, dst); err != nil {
		return fmt.Errorf("copy artifact to outbox: %w", err)
	}
	d.log.Info("artifact delivered",
		slog.String("token", string(token)),
		slog.String("file", filepath.Base(dst)),
		slog.String("caption", caption))
	return nil
}

// DeliverLink implements Deliverer.DeliverLink.
func (d *OutboxDeliverer) DeliverLink(ctx context.Context, token Token, url string) error {
	return d.writeNote(ctx, token, "link.txt", url)
}

// Notify implements Deliverer.Notify.
func (d *OutboxDeliverer) Notify(ctx context.Context, token Token, text string) error {
	return d.writeNote(ctx, token, "notice.txt", text)
}

func (d *OutboxDeliverer) writeNote(ctx context.Context, token Token, name, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(d.root, string(token))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(text+"\n"), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
