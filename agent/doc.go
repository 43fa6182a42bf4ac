// Package agent contains the nodes of the delegation tree.
//
//  1. BaseAgent: lifecycle and hierarchy plumbing shared by every node
//  2. ModelAgent: a leaf that owns tools and drives a model through flow
//  3. Coordinator: an interior node without tools that hands a whole turn
//     to exactly one child, chosen by a Router
//
// ValidateTree checks the structural rules of a composed tree: interior
// nodes own children and no tools, leaves own tools and no children, names
// are unique and the graph is acyclic.
package agent
