package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/executor"

	"github.com/dmitrijs2005/camwatch/internal/common"
	"github.com/dmitrijs2005/camwatch/internal/logging"
)

// runner abstracts mmcli invocation for tests.
type runner interface {
	Run(ctx context.Context, args ...string) (*executor.Result, error)
}

type execRunner struct {
	program string
}

func (r *execRunner) Run(ctx context.Context, args ...string) (*executor.Result, error) {
	return executor.New(r.program, args...).Execute(ctx)
}

// outputMode is the negotiated mmcli output format.
type outputMode int

const (
	modeUnknown outputMode = iota
	modeJSON
	modeText
)

// ModemSender sends SMS through the ModemManager CLI: one call to create
// the message, one to send it.
//
// mmcli output comes in two formats depending on version: JSON (-J) and
// plain text. The format is probed once (JSON first, text on the first
// failure) and the choice is cached for the process lifetime.
type ModemSender struct {
	run        runner
	modemIndex string
	logger     logging.Logger

	mu   sync.Mutex
	mode outputMode
}

// NewModemSender creates a Notifier driving mmcli for the given modem index.
func NewModemSender(mmcliPath, modemIndex string, logger logging.Logger) *ModemSender {
	return &ModemSender{
		run:        &execRunner{program: mmcliPath},
		modemIndex: modemIndex,
		logger:     logger.With("component", "modem_sender"),
	}
}

// Send creates and sends one SMS. Errors wrap common.ErrNotification.
func (s *ModemSender) Send(ctx context.Context, destination, text string) error {
	smsPath, err := s.createSMS(ctx, destination, text)
	if err != nil {
		return err
	}

	if _, err := s.run.Run(ctx, "-s", smsPath, "--send"); err != nil {
		return fmt.Errorf("%w: sending sms: %v", common.ErrNotification, err)
	}

	s.logger.Info(ctx, "sms sent", "destination", destination)
	return nil
}

// createSMS issues the create call in the negotiated output format and
// returns the DBus path of the new message.
func (s *ModemSender) createSMS(ctx context.Context, destination, text string) (string, error) {
	createArg := fmt.Sprintf("--messaging-create-sms=text='%s',number='%s'", text, destination)

	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	if mode != modeText {
		path, err := s.createJSON(ctx, createArg)
		if err == nil {
			s.cacheMode(modeJSON)
			return path, nil
		}
		if mode == modeJSON {
			return "", err
		}
		s.logger.Warn(ctx, "mmcli JSON output unavailable, falling back to text parsing",
			"error", err.Error())
	}

	path, err := s.createText(ctx, createArg)
	if err != nil {
		return "", err
	}
	s.cacheMode(modeText)
	return path, nil
}

func (s *ModemSender) cacheMode(m outputMode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

func (s *ModemSender) createJSON(ctx context.Context, createArg string) (string, error) {
	res, err := s.run.Run(ctx, "-J", "-m", s.modemIndex, createArg)
	if err != nil {
		return "", fmt.Errorf("%w: creating sms: %v", common.ErrNotification, err)
	}

	var reply struct {
		Modem struct {
			Messaging struct {
				CreatedSMS string `json:"created-sms"`
			} `json:"messaging"`
		} `json:"modem"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &reply); err != nil {
		return "", fmt.Errorf("%w: parsing mmcli JSON: %v", common.ErrNotification, err)
	}
	if reply.Modem.Messaging.CreatedSMS == "" {
		return "", fmt.Errorf("%w: mmcli JSON reply carries no sms path", common.ErrNotification)
	}
	return reply.Modem.Messaging.CreatedSMS, nil
}

// createText parses the classic human-readable reply:
//
//	Successfully created new SMS: /org/freedesktop/ModemManager1/SMS/21
func (s *ModemSender) createText(ctx context.Context, createArg string) (string, error) {
	res, err := s.run.Run(ctx, "-m", s.modemIndex, createArg)
	if err != nil {
		return "", fmt.Errorf("%w: creating sms: %v", common.ErrNotification, err)
	}

	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "SMS: "); idx != -1 {
			path := strings.TrimSpace(line[idx+len("SMS: "):])
			if path != "" {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no sms path in mmcli output", common.ErrNotification)
}
