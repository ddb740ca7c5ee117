// Package policy provides Open Policy Agent (OPA) integration for cookbot.
//
// Policies are checked before a run. Each policy is a Rego module that
// defines a deny set; every entry is a violation. The input describes the
// run and the whole recipe tree:
//
//	{
//	  "command": "uninstall",
//	  "args": [],
//	  "root": "main",
//	  "recipes": [
//	    {"name": "main", "kind": "recipe", "path": "main", "relation": "root",
//	     "options": {...}, "requires": [...], "parts": [...], "commands": [...]}
//	  ]
//	}
//
// # Writing policies
//
// A deny entry is a message string or an object with message and optional
// severity and recipe fields:
//
//	# Production trees only run through the deploy user.
//	# severity: error
//	package cookbot.deploy
//
//	deny contains violation if {
//		some r in input.recipes
//		r.kind == "user"
//		r.options.user != "deploy"
//		violation := {"message": sprintf("user %s is not allowed", [r.name]), "recipe": r.name}
//	}
//
// The leading comment block of a .rego file is its description, and a
// "severity:" line sets the default severity of its violations. Files are
// named after their policy. JSON files hold a serialized Policy.
//
// # Severities
//
// Violations with severity error or critical block the run: Check returns a
// policy error with code POLICY_VIOLATION. Other violations are logged as
// warnings.
//
// # Built-in policies
//
//   - naming: recipe names are non-empty and contain no whitespace
//   - protected: uninstall is refused when a recipe sets protected = true
//   - machine: machine recipes name a host; insecure host key checking and
//     inline passwords are warned about
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//		return err
//	}
//	if _, err := eng.Check(ctx, root, "install", nil); err != nil {
//		return err
//	}
package policy
