// Package mailer sends job-outcome notifications to a local user or to a
// peer!user address — the "Mailer" role of spec.md's architecture diagram.
// Delivery to a peer reuses the spool itself: a notification addressed to
// peer!user is queued as a new rmail job the same way uux would queue one,
// rather than this package opening any network connection of its own.
package mailer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/uerr"
	"github.com/uucp-go/uucp/internal/uuconf"
)

// Mailer delivers notifications on behalf of uuxqt and uustat.
type Mailer struct {
	cfg   uuconf.MailerConfig
	spool *spool.Spool
}

// New returns a Mailer that writes local mail under cfg's mail directory
// and queues remote mail through sp.
func New(cfg uuconf.MailerConfig, sp *spool.Spool) *Mailer {
	return &Mailer{cfg: cfg, spool: sp}
}

// Address is a parsed recipient: either a local user, or user on a named
// peer system (peer!user).
type Address struct {
	Peer string // "" means local
	User string
}

// ParseAddress splits a "peer!user" or bare "user" address.
func ParseAddress(addr string) Address {
	if idx := strings.IndexByte(addr, '!'); idx >= 0 {
		return Address{Peer: addr[:idx], User: addr[idx+1:]}
	}
	return Address{User: addr}
}

// Send delivers a subject + body notification to addr. Local delivery
// appends an mbox-format message to the user's mail spool file; remote
// delivery queues an rmail job bound for peer through the shared spool.
func (m *Mailer) Send(addr, subject, body string) error {
	a := ParseAddress(addr)
	if a.Peer == "" {
		return m.sendLocal(a.User, subject, body)
	}
	return m.sendRemote(a.Peer, a.User, subject, body)
}

func (m *Mailer) sendLocal(user, subject, body string) error {
	path := filepath.Join(m.cfg.LocalMailDir, user)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return uerr.New(uerr.KindSpoolIO, "mailer.sendLocal", err)
	}
	defer f.Close()

	from := m.cfg.FromAddress
	if from == "" {
		from = "uucp"
	}
	msg := formatMboxMessage(from, user, subject, body, time.Now())
	if _, err := f.WriteString(msg); err != nil {
		return uerr.New(uerr.KindSpoolIO, "mailer.sendLocal", err)
	}
	return nil
}

func formatMboxMessage(from, to, subject, body string, when time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From %s %s\n", from, when.UTC().Format("Mon Jan  2 15:04:05 2006"))
	fmt.Fprintf(&b, "From: %s\n", from)
	fmt.Fprintf(&b, "To: %s\n", to)
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	fmt.Fprintf(&b, "Date: %s\n\n", when.UTC().Format(time.RFC1123Z))
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// sendRemote queues the notification as an rmail execution request bound
// for peer, the same path a human running `uux peer!rmail user` would take.
func (m *Mailer) sendRemote(peer, user, subject, body string) error {
	dname, err := m.spool.NewDataName(peer, 'N')
	if err != nil {
		return err
	}
	f, err := m.spool.Create(dname)
	if err != nil {
		return err
	}
	msg := formatMboxMessage(m.cfg.FromAddress, user, subject, body, time.Now())
	if _, err := f.WriteString(msg); err != nil {
		f.Close()
		return uerr.New(uerr.KindSpoolIO, "mailer.sendRemote", err)
	}
	f.Close()

	xname, _, err := m.spool.XqtName(peer, 'N')
	if err != nil {
		return err
	}
	xf, err := m.spool.Create(xname)
	if err != nil {
		return err
	}
	defer xf.Close()

	x := spool.ExecuteFile{
		Argv:    []string{"rmail", user},
		CmdLine: "rmail " + user,
		Input:   dname,
		HasUser: true,
		User:    "uucp",
		System:  m.spool.LocalName(),
		NoAck:   true,
	}
	return spool.WriteExecuteFile(xf, &x)
}
