package moduleimage

import "github.com/shimmerdbg/wdbg/pe"

// Extended is a forensic snapshot of a module's less-essential PE
// metadata: everything the `lm`/`mi` REPL commands report beyond what
// SymbolIndex and the unwinder strictly need. It is computed lazily
// (Module.Extended) since most of it is never looked at during a session.
type Extended struct {
	ASLR              bool
	ControlFlowGuard   bool
	IsDLL             bool
	IsSigned          bool
	Signers           []string
	RichHeaderEntries int
	ImportedDLLs      []string
	TLSCallbacks      []uint64
	SEHandlerCount    int
	CFGFunctionCount  int
	GuardFlags        []string
	BoundImports      []string
	RelocationPages   int
	IATRange          pe.IATInfo
	GlobalPtr         uint32
}

// Extended computes the forensic snapshot from the module's already-
// parsed Image. Cheap enough to not bother caching: every field is a
// slice/count already sitting in memory from the initial parse.
func (m *Module) Extended() Extended {
	img := m.Image
	ext := Extended{
		ASLR:             img.ASLR(),
		ControlFlowGuard: img.ControlFlowGuard(),
		IsDLL:            img.IsDLL(),
		RichHeaderEntries: len(img.RichHeader.Entries),
		TLSCallbacks:      img.TLS.Callbacks,
		SEHandlerCount:    len(img.LoadConfig.SEHandlers),
		CFGFunctionCount:  len(img.LoadConfig.CFGFunctions),
		GuardFlags:        pe.StringifyGuardFlags(img.LoadConfig.Struct.GuardFlags),
		RelocationPages:   len(img.Relocations),
		IATRange:          img.IAT,
		GlobalPtr:         img.GlobalPtr,
	}

	if img.Certificate != nil {
		ext.IsSigned = img.Certificate.Present
		ext.Signers = img.Certificate.Signers
	}

	for _, imp := range img.Imports {
		ext.ImportedDLLs = append(ext.ImportedDLLs, imp.Name)
	}
	for _, bi := range img.BoundImports {
		ext.BoundImports = append(ext.BoundImports, bi.Name)
	}

	return ext
}
