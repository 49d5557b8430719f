package emailsvc

import (
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/mazoezi/core"
)

var (
	// SentMessages captures sent mail when the output is disabled (tests).
	SentMessages = make([]core.EmailMessage, 0)
	mu           sync.Mutex
)

type consoleService struct {
	defaultFromEmail mail.Address
	subjPrefix       string
	disableOutput    bool
}

var _ core.EmailService = (*consoleService)(nil)

func NewConsoleService(conf *core.Config) core.EmailService {
	return &consoleService{
		defaultFromEmail: conf.DefaultFromEmail,
		subjPrefix:       "[" + conf.AppName + "] ",
	}
}

// NewConsoleServiceMock returns a console service that records messages
// instead of printing them.
func NewConsoleServiceMock() core.EmailService {
	return &consoleService{disableOutput: true}
}

func (svc consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go svc.sendMessage(msg)
	}
}

func (svc consoleService) sendMessage(msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		log.Printf("%+v", errors.Wrap(err, "rendering email"))
		return
	}
	if msg.HasRecipients() && msg.HasContent() {
		svc.send(*msg)
	}
}

func (svc consoleService) send(msg core.EmailMessage) {
	mu.Lock()
	defer mu.Unlock()

	SentMessages = append(SentMessages, msg)
	if svc.disableOutput {
		return
	}

	tos := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		tos = append(tos, to.String())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", svc.defaultFromEmail.String())
	fmt.Fprintf(&b, "To: %s\n", strings.Join(tos, ", "))
	fmt.Fprintf(&b, "Subject: %s%s\n\n", svc.subjPrefix, msg.Subject)
	b.WriteString(msg.TextContent)
	log.Println(b.String())
}
