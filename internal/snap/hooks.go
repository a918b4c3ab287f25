package snap

import "context"

// HookRunner runs the user-supplied lifecycle hooks. Each method returns the
// hook's exit status; a missing hook reports 0. A non-nil error means the
// hook exists but could not be run at all.
type HookRunner interface {
	PreHost(ctx context.Context, login, volume string) (int, error)
	PostHost(ctx context.Context, login, volume string) (int, error)
	PreFilesystem(ctx context.Context, login, volume, spec string, update bool) (int, error)
	PostFilesystem(ctx context.Context, login, volume, spec string, update bool, destination string) (int, error)
}

// YesNo renders a boolean the way hook scripts receive it.
func YesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
