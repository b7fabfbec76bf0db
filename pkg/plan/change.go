package plan

type (
	// Type enumerates the migration plan flavors. Schema and data plans are
	// versioned; repeatable plans are not.
	Type string

	// DataChangeKind enumerates how a data change is expressed: an inline
	// SQL statement or an external file interpreted by kind.
	DataChangeKind string

	// ConditionCheck is a data change evaluated before or after a step,
	// whose integer result is compared against Expected. For SQL kinds the
	// result is the first column of the first row; for script kinds it is
	// the process exit status.
	ConditionCheck struct {
		Kind     DataChangeKind `json:"type"`
		SQL      string         `json:"sql,omitempty"`
		File     string         `json:"file,omitempty"`
		Expected *int64         `json:"expected,omitempty"`
	}

	// Step is one direction of a change. Direction is plain data on the
	// containing Change; a step is interpreted as a schema step (ID points
	// at a manifest in the schema store) or a data step (Kind plus payload)
	// according to the owning plan's type.
	Step struct {
		// schema steps
		ID string `json:"id,omitempty"`

		// data steps
		Kind DataChangeKind `json:"type,omitempty"`
		SQL  string         `json:"sql,omitempty"`
		File string         `json:"file,omitempty"`

		Precheck  *ConditionCheck `json:"precheck,omitempty"`
		Postcheck *ConditionCheck `json:"postcheck,omitempty"`

		// Legacy per-kind file fields, honored on read and normalized into
		// File immediately after decoding.
		LegacySQLFile        string `json:"sql_file,omitempty"`
		LegacyPythonFile     string `json:"python_file,omitempty"`
		LegacyShellFile      string `json:"shell_file,omitempty"`
		LegacyTypeScriptFile string `json:"typescript_file,omitempty"`
	}

	// Change pairs the mandatory forward step with the optional backward
	// step.
	Change struct {
		Forward  *Step `json:"forward"`
		Backward *Step `json:"backward,omitempty"`
	}
)

const (
	TypeSchema     Type = "schema"
	TypeData       Type = "data"
	TypeRepeatable Type = "repeatable"
)

const (
	KindSQL        DataChangeKind = "sql"
	KindSQLFile    DataChangeKind = "sql_file"
	KindPython     DataChangeKind = "python"
	KindShell      DataChangeKind = "shell"
	KindTypeScript DataChangeKind = "typescript"
)

// Versioned reports whether plans of this type participate in the ordered
// chain.
func (t Type) Versioned() bool {
	return t == TypeSchema || t == TypeData
}

// Valid reports whether t is a known plan type.
func (t Type) Valid() bool {
	return t == TypeSchema || t == TypeData || t == TypeRepeatable
}

// Valid reports whether k is a known data change kind.
func (k DataChangeKind) Valid() bool {
	switch k {
	case KindSQL, KindSQLFile, KindPython, KindShell, KindTypeScript:
		return true
	}
	return false
}

// External reports whether the kind's payload is a file under the data
// directory rather than an inline statement.
func (k DataChangeKind) External() bool {
	return k.Valid() && k != KindSQL
}

// Deterministic reports whether a condition check of this kind yields the
// same result for the same database state. SQL checks are deterministic;
// script checks may consult the outside world and always re-evaluate.
func (k DataChangeKind) Deterministic() bool {
	return k == KindSQL || k == KindSQLFile
}

// Dict returns the canonical map form of the check.
func (c *ConditionCheck) Dict() map[string]any {
	obj := map[string]any{"type": string(c.Kind)}
	if c.Kind == KindSQL {
		obj["sql"] = c.SQL
	} else if c.Kind.External() {
		obj["file"] = c.File
	}
	if c.Expected != nil {
		obj["expected"] = *c.Expected
	}
	return obj
}

// normalize folds the legacy per-kind file fields into File. The legacy
// fields never survive past decoding.
func (s *Step) normalize() {
	if s == nil {
		return
	}
	if s.File == "" {
		switch {
		case s.LegacySQLFile != "":
			s.File, s.Kind = s.LegacySQLFile, KindSQLFile
		case s.LegacyPythonFile != "":
			s.File, s.Kind = s.LegacyPythonFile, KindPython
		case s.LegacyShellFile != "":
			s.File, s.Kind = s.LegacyShellFile, KindShell
		case s.LegacyTypeScriptFile != "":
			s.File, s.Kind = s.LegacyTypeScriptFile, KindTypeScript
		}
	}
	s.LegacySQLFile = ""
	s.LegacyPythonFile = ""
	s.LegacyShellFile = ""
	s.LegacyTypeScriptFile = ""
}

// dict returns the canonical map form of the step for the given plan type.
func (s *Step) dict(t Type) map[string]any {
	obj := map[string]any{}
	if t == TypeSchema {
		obj["id"] = s.ID
	} else {
		obj["type"] = string(s.Kind)
		if s.Kind == KindSQL {
			obj["sql"] = s.SQL
		} else if s.Kind.External() {
			obj["file"] = s.File
		}
	}
	if s.Precheck != nil {
		obj["precheck"] = s.Precheck.Dict()
	}
	if s.Postcheck != nil {
		obj["postcheck"] = s.Postcheck.Dict()
	}
	return obj
}

// PrintString renders the step for tables: the manifest id for schema
// steps, the truncated statement or file name for data steps.
func (s *Step) PrintString(t Type) string {
	if s == nil {
		return ""
	}
	if t == TypeSchema {
		return s.ID
	}
	if s.Kind == KindSQL {
		return truncate(s.SQL, 40)
	}
	return s.File
}

func (c *Change) dict(t Type) map[string]any {
	obj := map[string]any{"forward": c.Forward.dict(t)}
	if c.Backward != nil {
		obj["backward"] = c.Backward.dict(t)
	}
	return obj
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
