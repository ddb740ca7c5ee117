package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		namingPolicy(),
		protectedPolicy(),
		machinePolicy(),
	}
}

// namingPolicy rejects recipe names that cannot be used on the command line.
func namingPolicy() Policy {
	return Policy{
		Name:        "naming",
		Description: "Recipe names are non-empty and contain no whitespace",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package cookbot.naming

deny contains violation if {
	some r in input.recipes
	r.name == ""
	violation := {
		"message": sprintf("recipe at %s has an empty name", [r.path]),
		"recipe": r.path,
	}
}

deny contains violation if {
	some r in input.recipes
	regex.match("\\s", r.name)
	violation := {
		"message": sprintf("recipe name %q contains whitespace", [r.name]),
		"recipe": r.name,
	}
}
`,
	}
}

// protectedPolicy refuses to uninstall trees holding a protected recipe.
func protectedPolicy() Policy {
	return Policy{
		Name:        "protected",
		Description: "Recipes with protected = true are never uninstalled",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package cookbot.protected

truthy := {"true", "yes", "on", "1"}

deny contains violation if {
	input.command == "uninstall"
	some r in input.recipes
	lower(r.options.protected) in truthy
	violation := {
		"message": sprintf("recipe %s is protected against uninstall", [r.name]),
		"recipe": r.name,
	}
}
`,
	}
}

// machinePolicy checks the connection settings of machine recipes.
func machinePolicy() Policy {
	return Policy{
		Name:        "machine",
		Description: "Machine recipes name a host and verify host keys",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"ssh", "security"},
		Rego: `package cookbot.machine

deny contains violation if {
	some r in input.recipes
	r.kind == "machine"
	not r.options.host
	violation := {
		"message": sprintf("machine %s has no host", [r.name]),
		"recipe": r.name,
	}
}

deny contains violation if {
	some r in input.recipes
	r.kind == "machine"
	lower(r.options.insecure) == "true"
	violation := {
		"message": sprintf("machine %s skips host key verification", [r.name]),
		"severity": "warning",
		"recipe": r.name,
	}
}

deny contains violation if {
	some r in input.recipes
	r.kind == "machine"
	r.options.password
	violation := {
		"message": sprintf("machine %s stores a password in the tree", [r.name]),
		"severity": "warning",
		"recipe": r.name,
	}
}
`,
	}
}
