// Package discovery находит устройства пользователя в локальной сети через mDNS.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/validation"
	"github.com/iudanet/peersync/pkg/api"
)

const (
	// DefaultService тип mDNS сервиса
	DefaultService = "_peersync._tcp"
	domain         = "local."
)

// Ключи TXT записей
const (
	txtDeviceID     = "device_id"
	txtType         = "type"
	txtCapabilities = "caps"
	txtProtocol     = "proto"
)

// Options параметры анонса и поиска
type Options struct {
	Service        string
	DeviceID       string
	Name           string
	DeviceType     models.DeviceType
	Capabilities   []string
	Port           int
	BrowseTimeout  time.Duration
	BrowseInterval time.Duration
}

// Service анонсирует устройство и ищет другие устройства
type Service struct {
	logger *slog.Logger
	server *zeroconf.Server
	opts   Options
	mu     sync.Mutex
}

// New создает сервис discovery. Сеть не трогается до Announce/Discover.
func New(opts Options, logger *slog.Logger) *Service {
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.BrowseTimeout <= 0 {
		opts.BrowseTimeout = 5 * time.Second
	}
	if opts.BrowseInterval <= 0 {
		opts.BrowseInterval = 10 * time.Second
	}
	return &Service{opts: opts, logger: logger}
}

// Announce публикует устройство в сети
func (s *Service) Announce() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("already announcing")
	}

	server, err := zeroconf.Register(s.instance(), s.opts.Service, domain, s.opts.Port, s.txtRecords(), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.server = server

	s.logger.Info("Announcing device via mDNS",
		"service", s.opts.Service,
		"instance", s.instance(),
		"port", s.opts.Port)
	return nil
}

// Shutdown снимает анонс
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
		s.logger.Info("mDNS announcement stopped")
	}
}

// Discover периодически ищет устройства и отдает их в канал.
// Канал закрывается при отмене ctx или если resolver больше не создается.
func (s *Service) Discover(ctx context.Context) (<-chan models.DeviceDescriptor, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	out := make(chan models.DeviceDescriptor, 16)
	go func() {
		defer close(out)

		for {
			s.browse(ctx, resolver, out)

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.BrowseInterval):
			}

			// resolver завершает работу вместе с контекстом Browse
			resolver, err = zeroconf.NewResolver(nil)
			if err != nil {
				s.logger.Warn("Failed to create mDNS resolver", "error", err)
				return
			}
		}
	}()

	return out, nil
}

func (s *Service) browse(ctx context.Context, resolver *zeroconf.Resolver, out chan<- models.DeviceDescriptor) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(ctx, s.opts.Service, domain, entries); err != nil {
		s.logger.Warn("mDNS browse failed", "error", err)
		return
	}

	found := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("mDNS browse cycle complete", "found", found)
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			desc, ok := s.descriptor(entry)
			if !ok {
				continue
			}
			found++
			select {
			case out <- desc:
			case <-ctx.Done():
				return
			}
		}
	}
}

// descriptor строит DeviceDescriptor из записи mDNS. Свои записи и записи без
// корректного device_id или адреса пропускаются.
func (s *Service) descriptor(entry *zeroconf.ServiceEntry) (models.DeviceDescriptor, bool) {
	if entry == nil {
		return models.DeviceDescriptor{}, false
	}

	txt := parseTXT(entry.Text)
	id := txt[txtDeviceID]
	if err := validation.ValidateDeviceID(id); err != nil {
		s.logger.Debug("Skipping mDNS entry without device id", "instance", entry.Instance)
		return models.DeviceDescriptor{}, false
	}
	if id == s.opts.DeviceID {
		return models.DeviceDescriptor{}, false
	}

	var address string
	switch {
	case len(entry.AddrIPv4) > 0:
		address = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		address = entry.AddrIPv6[0].String()
	default:
		s.logger.Debug("Skipping mDNS entry without address", "instance", entry.Instance)
		return models.DeviceDescriptor{}, false
	}

	desc := models.DeviceDescriptor{
		DeviceID:     id,
		Name:         entry.Instance,
		Address:      address,
		Port:         entry.Port,
		Capabilities: splitList(txt[txtCapabilities]),
	}
	if t, err := models.ParseDeviceType(txt[txtType]); err == nil {
		desc.Type = t
	}
	return desc, true
}

func (s *Service) instance() string {
	if s.opts.Name == "" {
		return s.opts.DeviceID
	}
	return s.opts.Name + "-" + s.opts.DeviceID
}

func (s *Service) txtRecords() []string {
	return []string{
		txtDeviceID + "=" + s.opts.DeviceID,
		txtType + "=" + string(s.opts.DeviceType),
		txtCapabilities + "=" + strings.Join(s.opts.Capabilities, ","),
		txtProtocol + "=" + strconv.Itoa(api.ProtocolVersion),
	}
}

// parseTXT converts zeroconf TXT records into a key/value map.
func parseTXT(records []string) map[string]string {
	values := make(map[string]string, len(records))
	for _, record := range records {
		if record == "" {
			continue
		}

		if eq := strings.IndexByte(record, '='); eq >= 0 {
			key := strings.TrimSpace(record[:eq])
			value := strings.TrimSpace(record[eq+1:])
			if key != "" {
				values[key] = value
			}
			continue
		}

		values[strings.TrimSpace(record)] = ""
	}
	return values
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
