package live

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"

	"isazap/internal/domain"
)

const qrImageSize = 256

// QRDataURI encodes a pairing payload as a PNG data URI.
func QRDataURI(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// PrintQR renders a pairing payload to a terminal.
func PrintQR(w io.Writer, payload string) {
	qrterminal.GenerateHalfBlock(payload, qrterminal.L, w)
}

type StatusConfig struct {
	Hub    *Hub
	Brand  string
	QROut  io.Writer // terminal for QR codes, nil disables printing
	Logger *slog.Logger
}

// Status turns session lifecycle events into live frames.
type Status struct {
	hub    *Hub
	brand  string
	qrOut  io.Writer
	logger *slog.Logger
}

func NewStatus(cfg StatusConfig) *Status {
	return &Status{hub: cfg.Hub, brand: cfg.Brand, qrOut: cfg.QROut, logger: cfg.Logger}
}

func (s *Status) line(text string) string { return "© " + s.brand + " " + text }

// HandleEvent is an event bus handler.
func (s *Status) HandleEvent(ev domain.SessionEvent) {
	switch ev.Type {
	case domain.EventQR:
		s.logger.Info("qr received")
		if s.qrOut != nil {
			PrintQR(s.qrOut, ev.QRCode)
		}
		uri, err := QRDataURI(ev.QRCode)
		if err != nil {
			s.logger.Error("qr image failed", "err", err)
			return
		}
		s.hub.Broadcast(FrameQR, uri)
		s.hub.Broadcast(FrameMessage, s.line("QRCode recebido, aponte a câmera do seu celular!"))

	case domain.EventAuthenticated:
		s.logger.Info("session authenticated")
		text := s.line("Autenticado!")
		s.hub.Broadcast(FrameAuthenticated, text)
		s.hub.Broadcast(FrameMessage, text)

	case domain.EventReady:
		s.logger.Info("session ready")
		text := s.line("Dispositivo pronto!")
		s.hub.Broadcast(FrameReady, text)
		s.hub.Broadcast(FrameMessage, text)
		s.hub.Broadcast(FrameQR, IconReady)

	case domain.EventAuthFailure:
		s.logger.Warn("session auth failure", "reason", ev.Reason)
		s.hub.Broadcast(FrameMessage, s.line("Falha na autenticação, reiniciando..."))

	case domain.EventChangeState:
		s.logger.Info("session state changed", "state", ev.State)

	case domain.EventDisconnected:
		s.logger.Warn("session disconnected", "reason", ev.Reason)
		s.hub.Broadcast(FrameMessage, s.line("Cliente desconectado!"))
	}
}
