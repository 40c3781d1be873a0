package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/auralink/auralink-bridge/internal/auditlog"
)

// Reader polls one IMAP mailbox for recent unread messages. Each call
// to [Reader.FetchRecentUnread] uses its own connection, so a Reader
// holds no network state between polls.
type Reader struct {
	cfg      Config
	logger   *slog.Logger
	activity *auditlog.File
	now      func() time.Time
}

// NewReader creates a mailbox reader for the given configuration. No
// connection is made until the first poll.
func NewReader(cfg Config, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		cfg:      cfg,
		logger:   logger.With("component", "mailbox", "host", cfg.Host),
		activity: auditlog.New(cfg.ActivityLog),
		now:      time.Now,
	}
}

// FetchRecentUnread returns up to maxCount of the most recent unread
// messages, newest first. It never fails: connection, login, and search
// errors are logged and produce an empty result, and a message that
// cannot be fetched or parsed is skipped. Every completed poll appends
// one line to the activity log.
func (r *Reader) FetchRecentUnread(ctx context.Context, maxCount int) []Item {
	if !r.cfg.Configured() {
		r.logger.Debug("mailbox not configured, skipping poll")
		return nil
	}
	if maxCount <= 0 {
		return nil
	}

	items, err := r.fetchUnread(ctx, maxCount)
	if err != nil {
		r.logger.Warn("mailbox poll failed", "user", r.cfg.Username, "error", err)
		return nil
	}

	if err := r.activity.Append(r.now(), fmt.Sprintf("Checked emails: %d unread", len(items))); err != nil {
		r.logger.Warn("email activity log write failed", "path", r.activity.Path(), "error", err)
	}
	return items
}

// dialTimeout bounds the TCP and TLS handshake when ctx has no
// earlier deadline.
const dialTimeout = 30 * time.Second

// dial connects and authenticates. The connection inherits ctx's
// deadline, and cancelling ctx closes it, so no IMAP command can
// outlive the caller. The returned stop func detaches the cancel hook.
func (r *Reader) dial(ctx context.Context) (*imapclient.Client, func() bool, error) {
	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	r.logger.Debug("connecting to IMAP server", "port", r.cfg.Port, "tls", r.cfg.TLS)

	netDialer := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if r.cfg.TLS {
		tlsDialer := &tls.Dialer{
			NetDialer: netDialer,
			Config:    &tls.Config{ServerName: r.cfg.Host},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial IMAP %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := imapclient.New(conn, &imapclient.Options{})
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })

	if err := client.Login(r.cfg.Username, r.cfg.Password).Wait(); err != nil {
		stop()
		_ = client.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("login as %s: %w", r.cfg.Username, ctxErr)
		}
		return nil, nil, fmt.Errorf("login as %s (gmail requires an app password): %w", r.cfg.Username, err)
	}
	return client, stop, nil
}

// fetchUnread performs one complete poll on a fresh connection.
func (r *Reader) fetchUnread(ctx context.Context, maxCount int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, stop, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		stop()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				r.logger.Debug("IMAP logout failed", "error", err)
			}
		}
		_ = client.Close()
	}()

	if _, err := client.Select(r.cfg.Folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", r.cfg.Folder, err)
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen in %s: %w", r.cfg.Folder, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		r.logger.Info("no unread email")
		return nil, nil
	}
	r.logger.Info("unread email found", "count", len(uids))

	// Highest UIDs are the most recently arrived.
	slices.Sort(uids)
	if len(uids) > maxCount {
		uids = uids[len(uids)-maxCount:]
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchOpts := &imap.FetchOptions{
		UID: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: r.cfg.Peek},
		},
	}
	fetchCmd := client.Fetch(uidSet, fetchOpts)

	var items []Item
	for {
		if err := ctx.Err(); err != nil {
			_ = fetchCmd.Close()
			return items, nil
		}
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		item, err := r.readFetched(msg)
		if err != nil {
			r.logger.Warn("skipping unreadable message", "uid", item.UID, "error", err)
			continue
		}
		r.logger.Debug("email fetched", "uid", item.UID, "sender", item.Sender, "subject", item.Subject)
		items = append(items, item)
	}

	if err := fetchCmd.Close(); err != nil {
		if len(items) == 0 {
			return nil, fmt.Errorf("fetch unread messages: %w", err)
		}
		r.logger.Warn("fetch ended with error, keeping messages read so far",
			"kept", len(items), "error", err)
	}

	slices.SortFunc(items, func(a, b Item) int {
		switch {
		case a.UID > b.UID:
			return -1
		case a.UID < b.UID:
			return 1
		}
		return 0
	})
	return items, nil
}

// readFetched consumes one FETCH response and parses its body. The
// returned Item carries the UID even on error so the caller can log it.
func (r *Reader) readFetched(msg *imapclient.FetchMessageData) (Item, error) {
	var uid uint32
	var raw []byte
	var readErr error

	for {
		fi := msg.Next()
		if fi == nil {
			break
		}
		switch data := fi.(type) {
		case imapclient.FetchItemDataUID:
			uid = uint32(data.UID)
		case imapclient.FetchItemDataBodySection:
			// Consume the literal immediately. go-imap/v2 streams
			// data from the connection; msg.Next() advances past
			// unread literals, so deferring the read would lose it.
			if data.Literal == nil {
				continue
			}
			raw, readErr = io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
			drainLiteral(data.Literal)
		}
	}

	if readErr != nil {
		return Item{UID: uid}, fmt.Errorf("read body literal: %w", readErr)
	}
	if raw == nil {
		return Item{UID: uid}, fmt.Errorf("no body section returned")
	}

	item, err := r.parseMessage(bytes.NewReader(raw))
	item.UID = uid
	if err != nil {
		return item, fmt.Errorf("parse message: %w", err)
	}
	return item, nil
}
