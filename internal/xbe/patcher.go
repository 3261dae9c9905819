package xbe

import "github.com/pkg/errors"

// SetSectionPermissions sets the writable and executable flags of the named
// section. XBE sections are always readable.
func (img *Image) SetSectionPermissions(name string, write, execute bool) error {
	i, ok := img.SectionByName(name)
	if !ok {
		return errors.Errorf("未找到节区: %s", name)
	}

	flags := img.SectionHeaders[i].Flags &^ (SectionWritable | SectionExecutable)
	if write {
		flags |= SectionWritable
	}
	if execute {
		flags |= SectionExecutable
	}
	img.SectionHeaders[i].Flags = flags
	return nil
}

// PatchEntryPoint points the entry point at addr, which must lie inside an
// executable section.
func (img *Image) PatchEntryPoint(addr uint32) error {
	i, ok := img.SectionForVirtual(addr)
	if !ok {
		return errors.Wrapf(ErrInvalidAddress, "入口点 0x%08X 不在任何节区内", addr)
	}
	if img.SectionHeaders[i].Flags&SectionExecutable == 0 {
		return errors.Errorf("入口点 0x%08X 所在节区 %s 不可执行", addr, img.SectionNames[i])
	}
	if !img.Header.SetEntryPoint(addr) {
		return errors.New("无法识别镜像类型，不能编码入口点")
	}
	return nil
}

// ParsePermissions parses a three character permission string such as
// "R-X" or "RW-". The read column is accepted for symmetry but ignored.
func ParsePermissions(perms string) (write, execute bool, err error) {
	if len(perms) != 3 {
		return false, false, errors.New("权限格式错误，应为3个字符，例如: R-X, RW-, RWX")
	}

	write = perms[1] == 'W' || perms[1] == 'w'
	execute = perms[2] == 'X' || perms[2] == 'x'

	return write, execute, nil
}

// PermissionFlags converts a permission string to section flags. Added
// sections are preloaded.
func PermissionFlags(perms string) (uint32, error) {
	write, execute, err := ParsePermissions(perms)
	if err != nil {
		return 0, err
	}
	flags := uint32(SectionPreload)
	if write {
		flags |= SectionWritable
	}
	if execute {
		flags |= SectionExecutable
	}
	return flags, nil
}
