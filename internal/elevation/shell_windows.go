//go:build windows

package elevation

import (
	"context"
	"errors"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

const seeMaskNoCloseProcess = 0x00000040

var procShellExecuteExW = windows.NewLazySystemDLL("shell32.dll").NewProc("ShellExecuteExW")

// shellExecuteInfo mirrors SHELLEXECUTEINFOW.
type shellExecuteInfo struct {
	cbSize       uint32
	fMask        uint32
	hwnd         windows.HWND
	lpVerb       *uint16
	lpFile       *uint16
	lpParameters *uint16
	lpDirectory  *uint16
	nShow        int32
	hInstApp     windows.Handle
	lpIDList     uintptr
	lpClass      *uint16
	hkeyClass    windows.Handle
	dwHotKey     uint32
	hIcon        windows.Handle
	hProcess     windows.Handle
}

func shellExecute(ctx context.Context, exe string, args []string, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return Wrap(ErrElevationFailed, "shell execute", "encode verb", err)
	}
	file, err := windows.UTF16PtrFromString(exe)
	if err != nil {
		return Wrap(ErrElevationFailed, "shell execute", "encode executable", err)
	}
	escaped := make([]string, len(args))
	for i, arg := range args {
		escaped[i] = windows.EscapeArg(arg)
	}
	params, err := windows.UTF16PtrFromString(strings.Join(escaped, " "))
	if err != nil {
		return Wrap(ErrElevationFailed, "shell execute", "encode arguments", err)
	}
	directory, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return Wrap(ErrElevationFailed, "shell execute", "encode directory", err)
	}

	info := shellExecuteInfo{
		fMask:        seeMaskNoCloseProcess,
		lpVerb:       verb,
		lpFile:       file,
		lpParameters: params,
		lpDirectory:  directory,
		nShow:        windows.SW_HIDE,
	}
	info.cbSize = uint32(unsafe.Sizeof(info))

	ok, _, callErr := procShellExecuteExW.Call(uintptr(unsafe.Pointer(&info)))
	if ok == 0 {
		if errors.Is(callErr, windows.ERROR_CANCELLED) {
			return Wrap(ErrConsentDeclined, "shell execute", "the elevation prompt was dismissed", nil)
		}
		return Wrap(ErrElevationFailed, "shell execute", exe, callErr)
	}
	if info.hProcess != 0 {
		_ = windows.CloseHandle(info.hProcess)
	}
	return nil
}
