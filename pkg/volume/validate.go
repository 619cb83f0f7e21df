package volume

import "strings"

// ExcludedPlatform is the host platform on which no attach, detach, delete or
// host operation is ever attempted.
const ExcludedPlatform = "windows"

// IsExcludedPlatform reports whether platform names the excluded platform anywhere in it
func IsExcludedPlatform(platform string) bool {
	return strings.Contains(strings.ToLower(platform), ExcludedPlatform)
}

func (m *LifecycleManager) checkPlatform(op string) error {
	if IsExcludedPlatform(m.instance.Platform) {
		return &UnsupportedPlatformError{Op: op, Platform: m.instance.Platform}
	}
	return nil
}

// checkHostAccess guards operations that touch the local filesystem
func (m *LifecycleManager) checkHostAccess(op string) error {
	if err := m.checkPlatform(op); err != nil {
		return err
	}
	if !m.instance.Privileged {
		return &PrivilegeRequiredError{Op: op}
	}
	return nil
}
