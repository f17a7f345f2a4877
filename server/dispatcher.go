package server

import (
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/slicknat/slnat/protocol"
	"github.com/slicknat/slnat/resolver"
)

// Resolver answers translation queries.
type Resolver interface {
	Resolve(ip string) (resolver.Resolution, error)
	GlobalIP(ip string) (resolver.Resolution, error)
}

// Observer receives the outcome of every request.
type Observer interface {
	ObserveRequest(command, status string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string) {}

// Dispatcher turns one decoded request into one response.
type Dispatcher struct {
	resolver Resolver
	logger   *log.Logger
	observer Observer
}

func NewDispatcher(r Resolver, logger *log.Logger, observer Observer) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		resolver: r,
		logger:   logger,
		observer: observer,
	}
}

// Dispatch executes req. It never fails; problems are reported in the
// response.
func (d *Dispatcher) Dispatch(req protocol.Request) protocol.Response {
	var resp protocol.Response
	switch req.Command {
	case protocol.CommandResolveIP:
		if req.IP == "" {
			resp = protocol.ErrorResponse(protocol.ErrMsgMissingIP)
			break
		}
		resp = d.resolve(req.IP)
	case protocol.CommandGetGlobalIP, protocol.CommandGet2kIP:
		if req.IP == "" {
			resp = protocol.ErrorResponse(protocol.ErrMsgMissingIP)
			break
		}
		resp = d.globalIP(req.IP)
	case protocol.CommandPing:
		resp = protocol.Response{Status: protocol.StatusPong}
	default:
		resp = protocol.ErrorResponse(protocol.ErrMsgUnknownPrefix + req.Command)
	}

	status := resp.Status
	if status == "" {
		status = "error"
	}
	d.observer.ObserveRequest(req.Command, status)
	d.logger.Debug("request served", "command", req.Command, "ip", req.IP, "status", status)

	return resp
}

func (d *Dispatcher) resolve(ip string) protocol.Response {
	res, err := d.resolver.Resolve(ip)
	if err != nil {
		return errorToResponse(ip, err)
	}
	if res.Direction == resolver.Inbound {
		return protocol.Response{
			ExternalIP: ip,
			InternalIP: res.Internal.String(),
			Interface:  res.Interface,
			Status:     protocol.StatusSuccess,
		}
	}
	return protocol.Response{
		InternalIP: ip,
		PublicIP:   res.External.String(),
		Interface:  res.Interface,
		Status:     protocol.StatusSuccess,
	}
}

func (d *Dispatcher) globalIP(ip string) protocol.Response {
	res, err := d.resolver.GlobalIP(ip)
	if err != nil {
		return errorToResponse(ip, err)
	}
	return protocol.Response{
		InternalIP: ip,
		GlobalIP:   res.External.String(),
		Interface:  res.Interface,
		Status:     protocol.StatusSuccess,
	}
}

func errorToResponse(ip string, err error) protocol.Response {
	var nf *resolver.NotFoundError
	switch {
	case errors.As(err, &nf):
		resp := protocol.Response{
			IP:     ip,
			Error:  nf.Error(),
			Status: protocol.StatusNotFound,
		}
		if nf.Global {
			available := nf.Available
			resp.AvailableMappings = &available
		}
		return resp
	case errors.Is(err, resolver.ErrInvalidAddress):
		return protocol.ErrorResponse(protocol.ErrMsgInvalidIP)
	}
	return protocol.ErrorResponse(err.Error())
}

// ServeConn reads a single request from rw and writes back the response.
// A peer that closes without sending anything gets no reply.
func (d *Dispatcher) ServeConn(rw io.ReadWriter) error {
	var req protocol.Request
	if err := protocol.ReadMessage(rw, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		d.observer.ObserveRequest("", "error")
		return protocol.WriteMessage(rw, protocol.ErrorResponse(err.Error()))
	}
	return protocol.WriteMessage(rw, d.Dispatch(req))
}
