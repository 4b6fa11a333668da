package graph

import "fmt"

// Module owns storage nodes and the functions built over them. A partitioned
// network keeps its placeholders and constants in the module while the
// original function is replaced by sub-functions.
type Module struct {
	functions    []*Function
	byName       map[string]*Function
	placeholders []*Node
	constants    []*Node
	storageByKey map[string]*Node
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{
		byName:       make(map[string]*Function),
		storageByKey: make(map[string]*Node),
	}
}

// NewFunction creates a function with a module-unique name.
func (m *Module) NewFunction(name string) (*Function, error) {
	if _, exists := m.byName[name]; exists {
		return nil, fmt.Errorf("module: duplicate function name %q", name)
	}
	f := &Function{name: name, mod: m, byKey: make(map[string]*Node)}
	m.functions = append(m.functions, f)
	m.byName[name] = f
	return f, nil
}

// Function returns the named function, nil if absent.
func (m *Module) Function(name string) *Function { return m.byName[name] }

// HasFunction reports whether the named function exists.
func (m *Module) HasFunction(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Functions returns the functions in creation order.
func (m *Module) Functions() []*Function { return m.functions }

// EraseFunction removes a function and detaches its nodes from storage users.
func (m *Module) EraseFunction(f *Function) {
	for i, existing := range m.functions {
		if existing == f {
			m.functions = append(m.functions[:i], m.functions[i+1:]...)
			break
		}
	}
	delete(m.byName, f.name)
	for _, n := range f.nodes {
		for _, in := range n.inputs {
			in.Node.removeUser(n)
		}
	}
	f.nodes = nil
	f.byKey = nil
}

// NewPlaceholder creates a module-owned external input/output slot.
func (m *Module) NewPlaceholder(name string, t *Type) (*Node, error) {
	return m.newStorage(KindPlaceholder, name, t)
}

// NewConstant creates a module-owned weight tensor.
func (m *Module) NewConstant(name string, t *Type) (*Node, error) {
	return m.newStorage(KindConstant, name, t)
}

func (m *Module) newStorage(kind Kind, name string, t *Type) (*Node, error) {
	if _, exists := m.storageByKey[name]; exists {
		return nil, fmt.Errorf("module: duplicate storage name %q", name)
	}
	n := &Node{name: name, kind: kind, outputs: []*Type{t}}
	m.storageByKey[name] = n
	if kind == KindPlaceholder {
		m.placeholders = append(m.placeholders, n)
	} else {
		m.constants = append(m.constants, n)
	}
	return n, nil
}

// Placeholder returns the named placeholder, nil if absent or not a placeholder.
func (m *Module) Placeholder(name string) *Node {
	n := m.storageByKey[name]
	if n == nil || n.kind != KindPlaceholder {
		return nil
	}
	return n
}

// Placeholders returns all module placeholders in creation order.
func (m *Module) Placeholders() []*Node { return m.placeholders }

// Constants returns all module constants in creation order.
func (m *Module) Constants() []*Node { return m.constants }

// ConstantsSize returns the total byte size of all module constants.
func (m *Module) ConstantsSize() int64 {
	var total int64
	for _, c := range m.constants {
		total += c.OutputType(0).SizeInBytes()
	}
	return total
}
