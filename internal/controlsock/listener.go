package controlsock

import (
	"encoding/binary"
	"log"
	"net"
	"os"

	"hamasterd/internal/resource"
)

// Listen opens the unix-domain control socket at path, removing any stale
// socket file left behind by a previous run.
func Listen(path string) (net.Listener, error) {
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

// Serve accepts connections on ln until it is closed, handling each on its
// own goroutine. engine is the resource supervisor the registration path and
// subsequent command replies feed into.
func Serve(ln net.Listener, engine *resource.Engine) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		go handleConn(nc, engine)
	}
}

func handleConn(nc net.Conn, engine *resource.Engine) {
	regBuf := make([]byte, procRegisterLen)
	if _, err := fillBuf(nc, regBuf); err != nil {
		log.Printf("controlsock: registration read failed: %v", err)
		nc.Close()
		return
	}
	rec, err := DecodeProcRegister(regBuf)
	if err != nil {
		log.Printf("controlsock: registration decode failed: %v", err)
		nc.Close()
		return
	}

	argv := Argv(rec.ExecPath, rec.Args)
	kind := resource.KindOther
	if len(rec.Args) > 0 && len(rec.Args[0]) > 0 {
		kind = resource.KindFromPrefix(rec.Args[0][0])
	}

	conn := NewConn(nc)
	if _, err := engine.Register(argv, rec.ExecPath, rec.Args, kind, int(rec.Pid), conn); err != nil {
		log.Printf("controlsock: registration rejected for pid %d: %v", rec.Pid, err)
		nc.Close()
		return
	}

	for {
		cmd, err := readCommand(nc)
		if err != nil {
			return
		}
		switch cmd {
		case CmdGetEOFResponse:
			data, err := readData(nc)
			if err != nil || len(data) != 8 {
				return
			}
			eof := int64(binary.BigEndian.Uint64(data))
			engine.RecordEOF(argv, eof)
		case CmdChangeHAMode:
			data, err := readData(nc)
			if err != nil || len(data) != 4 {
				return
			}
			active := HAMode(binary.BigEndian.Uint32(data)) == ModeActive
			engine.ConfirmChangeModeAck(argv, active)
		default:
			// Unknown command from a child: ignore per spec.md §7's
			// transient-error handling for malformed traffic.
		}
	}
}
